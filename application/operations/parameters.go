package operations

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Parameters decodes the loosely typed parameters of a request. Type errors accumulate and are
// reported together by Err, along with any parameter the operation never read.
type Parameters struct {
	raw        map[string]any
	used       map[string]bool
	violations pkgerrors.Violations
}

// NewParameters wraps decoded request parameters. A nil map has no parameters.
func NewParameters(raw map[string]any) *Parameters {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Parameters{raw: raw, used: make(map[string]bool, len(raw))}
}

func (p *Parameters) lookup(name string) (any, bool) {
	p.used[name] = true
	v, ok := p.raw[name]
	if ok && v == nil {
		return nil, false
	}
	return v, ok
}

// String returns a string parameter, or "" when it is absent.
func (p *Parameters) String(name string) string {
	v, ok := p.lookup(name)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		p.violations.Addf(name, "type", "%s must be a string", name)
	}
	return s
}

// Object returns an object parameter, or nil when it is absent.
func (p *Parameters) Object(name string) map[string]any {
	v, ok := p.lookup(name)
	if !ok {
		return nil
	}
	m, isObject := v.(map[string]any)
	if !isObject {
		p.violations.Addf(name, "type", "%s must be an object", name)
	}
	return m
}

// Value returns a parameter as is; the consumer validates it.
func (p *Parameters) Value(name string) any {
	v, _ := p.lookup(name)
	return v
}

// Int returns an optional integer parameter. JSON numbers arrive as float64 and must be integral.
func (p *Parameters) Int(name string) *int {
	v, ok := p.lookup(name)
	if !ok {
		return nil
	}
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			p.violations.Addf(name, "type", "%s must be an integer", name)
			return nil
		}
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			p.violations.Addf(name, "type", "%s must be an integer", name)
			return nil
		}
		n = int(i)
	default:
		p.violations.Addf(name, "type", "%s must be an integer", name)
		return nil
	}
	return &n
}

// Rest returns every parameter not read so far and marks them read. Operations whose
// parameters are a record's fields pass them on to schema validation this way.
func (p *Parameters) Rest() map[string]any {
	rest := make(map[string]any, len(p.raw))
	for k, v := range p.raw {
		if !p.used[k] {
			rest[k] = v
			p.used[k] = true
		}
	}
	return rest
}

// Page reads the pageToken and limit parameters.
func (p *Parameters) Page() ports.PageRequest {
	page := ports.PageRequest{Token: p.String("pageToken")}
	if limit := p.Int("limit"); limit != nil {
		if *limit < 1 {
			p.violations.Add("limit", "min", "limit must be positive")
		} else {
			page.Limit = *limit
		}
	}
	return page
}

// Err reports type errors and unknown parameters.
func (p *Parameters) Err() error {
	unknown := make([]string, 0)
	for k := range p.raw {
		if !p.used[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		p.violations.Addf(k, "unknown", "unknown parameter %s", k)
		p.used[k] = true
	}
	return p.violations.Err("parameters")
}
