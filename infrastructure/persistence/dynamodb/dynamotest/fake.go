// Package dynamotest provides an in-memory DynamoDB table for tests. It honors the parts of the
// API the store relies on: strongly consistent reads, key-condition queries on the table and its
// GSIs, and all-or-nothing TransactWriteItems with per-item cancellation reasons.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
)

// Operation names passed to hooks.
const (
	OpGetItem            = "GetItem"
	OpQuery              = "Query"
	OpTransactWriteItems = "TransactWriteItems"
)

// Hook runs before every call. A non-nil error is returned to the caller instead of the result.
type Hook func(ctx context.Context, op string, input any) error

type primaryKey struct {
	pk, sk string
}

// Table is an in-memory table safe for concurrent use.
type Table struct {
	layout schema.Table

	mu    sync.Mutex
	items map[primaryKey]map[string]types.AttributeValue
	hook  Hook
	calls map[string]int
}

// New creates an empty table with the given layout
func New(layout schema.Table) *Table {
	return &Table{
		layout: layout,
		items:  make(map[primaryKey]map[string]types.AttributeValue),
		calls:  make(map[string]int),
	}
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (t *Table) SetHook(h Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = h
}

// FailNext makes the next n calls of op return err.
func (t *Table) FailNext(op string, n int, err error) {
	var mu sync.Mutex
	remaining := n
	t.SetHook(func(_ context.Context, called string, _ any) error {
		if called != op {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		remaining--
		return err
	})
}

// FailWhen fails every call of op whose input matches.
func (t *Table) FailWhen(op string, match func(input any) bool, err error) {
	t.SetHook(func(_ context.Context, called string, input any) error {
		if called == op && match(input) {
			return err
		}
		return nil
	})
}

// Hang blocks every call of op until its context is done.
func (t *Table) Hang(op string) {
	t.SetHook(func(ctx context.Context, called string, _ any) error {
		if called != op {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

// Calls returns how many times op was invoked, hooks included.
func (t *Table) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (t *Table) Item(key schema.Key) map[string]types.AttributeValue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.items[primaryKey{key.PK, key.SK}])
}

// Seed stores item unconditionally.
func (t *Table) Seed(item map[string]types.AttributeValue) error {
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[k] = clone(item)
	return nil
}

// Count returns the number of items in partition whose sort key starts with prefix.
func (t *Table) Count(partition, prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.items {
		if k.pk == partition && len(k.sk) >= len(prefix) && k.sk[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (t *Table) before(ctx context.Context, op string, input any) error {
	t.mu.Lock()
	t.calls[op]++
	hook := t.hook
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, op, input)
	}
	return nil
}

func (t *Table) checkTable(name *string) error {
	if aws.ToString(name) != t.layout.Name {
		return validationError(fmt.Sprintf("Requested resource not found: Table: %s not found", aws.ToString(name)))
	}
	return nil
}

// GetItem implements the DynamoDB API
func (t *Table) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := t.before(ctx, OpGetItem, params); err != nil {
		return nil, err
	}
	if err := t.checkTable(params.TableName); err != nil {
		return nil, err
	}
	k, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: clone(t.items[k])}, nil
}

// Query implements the DynamoDB API
func (t *Table) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := t.before(ctx, OpQuery, params); err != nil {
		return nil, err
	}
	if err := t.checkTable(params.TableName); err != nil {
		return nil, err
	}

	pkAttr, skAttr := t.layout.PartitionKey.Name, t.layout.SortKey.Name
	onIndex := params.IndexName != nil
	if onIndex {
		if aws.ToBool(params.ConsistentRead) {
			return nil, validationError("Consistent reads are not supported on global secondary indexes")
		}
		gsi, ok := t.layout.Index(aws.ToString(params.IndexName))
		if !ok {
			return nil, validationError(fmt.Sprintf("The table does not have the specified index: %s", aws.ToString(params.IndexName)))
		}
		pkAttr, skAttr = gsi.PartitionKey.Name, gsi.SortKey.Name
	}

	t.mu.Lock()
	var matched []map[string]types.AttributeValue
	for _, item := range t.items {
		if _, ok := item[pkAttr]; !ok {
			continue
		}
		ok, err := evaluate(aws.ToString(params.KeyConditionExpression), item,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			t.mu.Unlock()
			return nil, validationError("Invalid KeyConditionExpression: " + err.Error())
		}
		if ok {
			matched = append(matched, clone(item))
		}
	}
	t.mu.Unlock()

	less := func(a, b map[string]types.AttributeValue) bool {
		return t.order(a, skAttr) < t.order(b, skAttr)
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if params.ExclusiveStartKey != nil {
		start := t.order(params.ExclusiveStartKey, skAttr)
		forward := params.ScanIndexForward == nil || *params.ScanIndexForward
		i := 0
		for i < len(matched) {
			o := t.order(matched[i], skAttr)
			if (forward && o > start) || (!forward && o < start) {
				break
			}
			i++
		}
		matched = matched[i:]
	}

	out := &dynamodb.QueryOutput{}
	evaluated := matched
	if limit := int(aws.ToInt32(params.Limit)); limit > 0 && len(matched) > limit {
		evaluated = matched[:limit]
		last := evaluated[limit-1]
		out.LastEvaluatedKey = t.keyAttributes(last, pkAttr, skAttr, onIndex)
	}

	for _, item := range evaluated {
		ok, err := evaluate(aws.ToString(params.FilterExpression), item,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, validationError("Invalid FilterExpression: " + err.Error())
		}
		if ok {
			out.Items = append(out.Items, item)
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(evaluated))
	return out, nil
}

// TransactWriteItems implements the DynamoDB API. Either every item applies or none does.
func (t *Table) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput,
	_ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := t.before(ctx, OpTransactWriteItems, params); err != nil {
		return nil, err
	}
	if len(params.TransactItems) == 0 || len(params.TransactItems) > 100 {
		return nil, validationError("Member must have length between 1 and 100")
	}

	type write struct {
		key  primaryKey
		item map[string]types.AttributeValue
	}
	type condition struct {
		key    primaryKey
		expr   *string
		names  map[string]string
		values map[string]types.AttributeValue
	}

	writes := make([]write, len(params.TransactItems))
	conds := make([]condition, len(params.TransactItems))
	seen := make(map[primaryKey]bool)
	for i, ti := range params.TransactItems {
		var (
			table *string
			key   map[string]types.AttributeValue
			w     write
			c     condition
		)
		switch {
		case ti.Put != nil:
			table, key = ti.Put.TableName, ti.Put.Item
			w.item = clone(ti.Put.Item)
			c = condition{expr: ti.Put.ConditionExpression, names: ti.Put.ExpressionAttributeNames, values: ti.Put.ExpressionAttributeValues}
		case ti.Delete != nil:
			table, key = ti.Delete.TableName, ti.Delete.Key
			c = condition{expr: ti.Delete.ConditionExpression, names: ti.Delete.ExpressionAttributeNames, values: ti.Delete.ExpressionAttributeValues}
		case ti.ConditionCheck != nil:
			table, key = ti.ConditionCheck.TableName, ti.ConditionCheck.Key
			c = condition{expr: ti.ConditionCheck.ConditionExpression, names: ti.ConditionCheck.ExpressionAttributeNames, values: ti.ConditionCheck.ExpressionAttributeValues}
		case ti.Update != nil:
			return nil, validationError("Update items are not supported by the in-memory table")
		default:
			return nil, validationError("TransactItem must specify an action")
		}
		if err := t.checkTable(table); err != nil {
			return nil, err
		}
		k, err := t.keyOf(key)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, validationError("Transaction request cannot include multiple operations on one item")
		}
		seen[k] = true
		w.key, c.key = k, k
		if ti.ConditionCheck != nil {
			w.key = primaryKey{}
		}
		writes[i], conds[i] = w, c
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	reasons := make([]types.CancellationReason, len(conds))
	cancelled := false
	for i, c := range conds {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		ok, err := evaluate(aws.ToString(c.expr), t.items[c.key], c.names, c.values)
		if err != nil {
			return nil, validationError("Invalid ConditionExpression: " + err.Error())
		}
		if !ok {
			cancelled = true
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for i, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			t.items[writes[i].key] = writes[i].item
		case ti.Delete != nil:
			delete(t.items, conds[i].key)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (t *Table) keyOf(av map[string]types.AttributeValue) (primaryKey, error) {
	pk, ok := av[t.layout.PartitionKey.Name].(*types.AttributeValueMemberS)
	if !ok {
		return primaryKey{}, validationError("One of the required keys was not given a value: " + t.layout.PartitionKey.Name)
	}
	sk, ok := av[t.layout.SortKey.Name].(*types.AttributeValueMemberS)
	if !ok {
		return primaryKey{}, validationError("One of the required keys was not given a value: " + t.layout.SortKey.Name)
	}
	return primaryKey{pk.Value, sk.Value}, nil
}

// order is the position of item within its query partition: the sort key, with the table
// key breaking ties on an index.
func (t *Table) order(item map[string]types.AttributeValue, skAttr string) string {
	s := func(name string) string {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	return s(skAttr) + "\x00" + s(t.layout.PartitionKey.Name) + "\x00" + s(t.layout.SortKey.Name)
}

func (t *Table) keyAttributes(item map[string]types.AttributeValue, pkAttr, skAttr string, onIndex bool) map[string]types.AttributeValue {
	names := []string{t.layout.PartitionKey.Name, t.layout.SortKey.Name}
	if onIndex {
		names = append(names, pkAttr, skAttr)
	}
	key := make(map[string]types.AttributeValue, len(names))
	for _, n := range names {
		key[n] = item[n]
	}
	return key
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg, Fault: smithy.FaultClient}
}
