package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MiguelSchuhAlles/preanesth-app/application/ports"
	"github.com/MiguelSchuhAlles/preanesth-app/infrastructure/persistence/schema"
	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Page tokens are the base64url JSON of the last evaluated key. A token is only accepted for
// the query that produced it: its partition must match.

func encodePageToken(key map[string]types.AttributeValue) string {
	if len(key) == 0 {
		return ""
	}
	plain := make(map[string]string, len(key))
	for name, av := range key {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			plain[name] = s.Value
		}
	}
	b, _ := json.Marshal(plain)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodePageToken(token string, q schema.Query) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	invalid := pkgerrors.NewValidationError("invalid page token", pkgerrors.FieldViolation{
		Field: "pageToken", Constraint: "pagetoken", Message: "pageToken was not issued for this listing",
	}).WithCode(pkgerrors.CodeInvalidPageToken)

	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}
	var plain map[string]string
	if err := json.Unmarshal(b, &plain); err != nil {
		return nil, invalid
	}

	required := []string{schema.AttrPK, schema.AttrSK}
	if q.OnGSI1 {
		required = append(required, schema.AttrGSI1PK, schema.AttrGSI1SK)
	}
	if len(plain) != len(required) {
		return nil, invalid
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for _, name := range required {
		v, ok := plain[name]
		if !ok {
			return nil, invalid
		}
		key[name] = &types.AttributeValueMemberS{Value: v}
	}
	if plain[q.PartitionAttr] != q.PartitionValue || !strings.HasPrefix(plain[q.SortAttr], q.SortPrefix) {
		return nil, invalid
	}
	return key, nil
}

func (c *Client) limit(requested int) int32 {
	switch {
	case requested <= 0:
		return int32(c.pageSize)
	case requested > MaxPageSize:
		return MaxPageSize
	default:
		return int32(requested)
	}
}

// queryInput builds the key condition of q and an optional filter.
func (c *Client) queryInput(q schema.Query, filter *expression.ConditionBuilder) (*dynamodb.QueryInput, error) {
	keyCond := expression.Key(q.PartitionAttr).Equal(expression.Value(q.PartitionValue))
	if q.SortPrefix != "" {
		keyCond = keyCond.And(expression.KeyBeginsWith(expression.Key(q.SortAttr), q.SortPrefix))
	}
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build query").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(q.Ascending),
	}
	if q.OnGSI1 {
		input.IndexName = aws.String(c.gsi1Name)
	} else {
		input.ConsistentRead = aws.Bool(true)
	}
	return input, nil
}

// queryPage reads one page of q.
func (c *Client) queryPage(ctx context.Context, op string, q schema.Query, filter *expression.ConditionBuilder,
	page ports.PageRequest) ([]map[string]types.AttributeValue, string, error) {
	start, err := decodePageToken(page.Token, q)
	if err != nil {
		return nil, "", err
	}
	input, err := c.queryInput(q, filter)
	if err != nil {
		return nil, "", err
	}
	input.ExclusiveStartKey = start
	input.Limit = aws.Int32(c.limit(page.Limit))

	out, err := c.call(ctx, op, func(ctx context.Context) (any, error) {
		return c.api.Query(ctx, input)
	})
	if err != nil {
		return nil, "", c.internal(op, err)
	}
	res := out.(*dynamodb.QueryOutput)
	return res.Items, encodePageToken(res.LastEvaluatedKey), nil
}

// guardedQuery routes paginator calls through the timeout and circuit breaker.
type guardedQuery struct {
	client *Client
	op     string
}

func (g guardedQuery) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	out, err := g.client.call(ctx, g.op, func(ctx context.Context) (any, error) {
		return g.client.api.Query(ctx, params, optFns...)
	})
	if err != nil {
		return nil, g.client.internal(g.op, err)
	}
	return out.(*dynamodb.QueryOutput), nil
}

// resumeToken is the page token that continues q right after item.
func resumeToken(item map[string]types.AttributeValue, q schema.Query) string {
	names := []string{schema.AttrPK, schema.AttrSK}
	if q.OnGSI1 {
		names = append(names, schema.AttrGSI1PK, schema.AttrGSI1SK)
	}
	key := make(map[string]types.AttributeValue, len(names))
	for _, name := range names {
		if av, ok := item[name]; ok {
			key[name] = av
		}
	}
	return encodePageToken(key)
}

// queryAll lazily yields every item of q after the page token, each with the token that
// resumes after it. batch bounds the items read per request.
func (c *Client) queryAll(ctx context.Context, op string, q schema.Query, pageToken string, batch int32) iter.Seq2[ports.Item[map[string]types.AttributeValue], error] {
	type item = ports.Item[map[string]types.AttributeValue]
	return func(yield func(item, error) bool) {
		start, err := decodePageToken(pageToken, q)
		if err != nil {
			yield(item{}, err)
			return
		}
		input, err := c.queryInput(q, nil)
		if err != nil {
			yield(item{}, err)
			return
		}
		input.ExclusiveStartKey = start
		input.Limit = aws.Int32(batch)

		paginator := dynamodb.NewQueryPaginator(guardedQuery{client: c, op: op}, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(item{}, err)
				return
			}
			for _, av := range page.Items {
				if !yield(item{Value: av, PageToken: resumeToken(av, q)}, nil) {
					return
				}
			}
		}
	}
}
