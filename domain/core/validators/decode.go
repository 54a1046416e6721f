package validators

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// decode copies an untyped record into the json-tagged fields of out, a pointer to a struct.
// Values of the wrong type and keys out does not declare are recorded as violations; decoding
// continues so every problem is reported at once.
func decode(in map[string]any, out any, prefix string, v *pkgerrors.Violations) {
	rv := reflect.ValueOf(out).Elem()
	rt := rv.Type()

	known := make(map[string]bool, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		name := jsonName(rt.Field(i))
		if name == "" {
			continue
		}
		known[name] = true

		raw, ok := in[name]
		if !ok || raw == nil {
			continue
		}
		if !assign(rv.Field(i), raw) {
			v.Addf(prefix+name, "type", "%s must be %s", prefix+name, typeLabel(rt.Field(i).Type))
		}
	}

	unknown := make([]string, 0)
	for key := range in {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		v.Addf(prefix+key, "unknown", "%s is not a recognized field", prefix+key)
	}
}

func assign(dst reflect.Value, raw any) bool {
	if dst.Type() == rawMessageType {
		b, ok := toRawJSON(raw)
		if ok {
			dst.Set(reflect.ValueOf(b))
		}
		return ok
	}

	switch dst.Kind() {
	case reflect.Ptr:
		elem := reflect.New(dst.Type().Elem())
		if !assign(elem.Elem(), raw) {
			return false
		}
		dst.Set(elem)
		return true
	case reflect.String:
		s, ok := raw.(string)
		if ok {
			dst.SetString(s)
		}
		return ok
	case reflect.Bool:
		b, ok := raw.(bool)
		if ok {
			dst.SetBool(b)
		}
		return ok
	case reflect.Int:
		n, ok := toInt(raw)
		if ok {
			dst.SetInt(int64(n))
		}
		return ok
	case reflect.Map:
		m, ok := raw.(map[string]any)
		if ok {
			dst.Set(reflect.ValueOf(m))
		}
		return ok
	}
	return false
}

func toInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func toRawJSON(raw any) (json.RawMessage, bool) {
	switch r := raw.(type) {
	case json.RawMessage:
		return r, json.Valid(r)
	case []byte:
		return json.RawMessage(r), json.Valid(r)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	return b, true
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func typeLabel(t reflect.Type) string {
	if t == rawMessageType {
		return "a JSON value"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int:
		return "an integer"
	case reflect.Map:
		return "an object"
	}
	return fmt.Sprintf("a %s", t.Kind())
}
