package orders

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory orders table. It understands the exact update and
// condition expressions DynamoStore builds, not DynamoDB's grammar in general.
type mockDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	// errs are returned, in order, by the next UpdateItem calls before any real work.
	updateErrs []error
	// commitErrs are returned, in order, by the next UpdateItem calls after the update is applied.
	commitErrs []error
	updates    int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items: map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Item["order_id"].(*types.AttributeValueMemberS).Value
	m.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		return nil, err
	}

	k := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, exists := m.items[k]
	vals := params.ExpressionAttributeValues

	if params.ConditionExpression != nil {
		ok := exists
		switch *params.ConditionExpression {
		case conditionTransition:
			ok = ok && strAttr(item, "payment_status") == vals[":expected"].(*types.AttributeValueMemberS).Value
		case conditionAttach:
			ref := strAttr(item, "external_reference")
			ok = ok && (ref == "" || ref == vals[":ref"].(*types.AttributeValueMemberS).Value)
		default:
			return nil, errors.New("mock: unsupported condition " + *params.ConditionExpression)
		}
		if !ok {
			ccf := &types.ConditionalCheckFailedException{}
			if exists && params.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
				ccf.Item = copyItem(item)
			}
			return nil, ccf
		}
	}
	if !exists {
		item = map[string]types.AttributeValue{"order_id": params.Key["order_id"]}
	}

	expr := *params.UpdateExpression
	setPart, removePart, _ := strings.Cut(expr, " REMOVE ")
	for _, clause := range splitTopLevel(strings.TrimPrefix(setPart, "SET ")) {
		lhs, rhs, _ := strings.Cut(clause, " = ")
		attr := resolveName(lhs, params.ExpressionAttributeNames)
		if strings.HasPrefix(rhs, "if_not_exists(") {
			inner := strings.TrimSuffix(strings.TrimPrefix(rhs, "if_not_exists("), ")")
			_, placeholder, _ := strings.Cut(inner, ", ")
			if _, present := item[attr]; !present {
				item[attr] = vals[placeholder]
			}
			continue
		}
		item[attr] = vals[rhs]
	}
	if removePart != "" {
		for _, attr := range strings.Split(removePart, ", ") {
			delete(item, resolveName(attr, params.ExpressionAttributeNames))
		}
	}
	m.items[k] = item
	if len(m.commitErrs) > 0 {
		err := m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
		return nil, err
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyAttr, placeholder, _ := strings.Cut(*params.KeyConditionExpression, " = ")
	want := params.ExpressionAttributeValues[placeholder].(*types.AttributeValueMemberS).Value

	var matched []map[string]types.AttributeValue
	for _, item := range m.items {
		if strAttr(item, keyAttr) != want {
			continue
		}
		if params.FilterExpression != nil && *params.FilterExpression == "attribute_exists(external_reference)" {
			if _, ok := item["external_reference"]; !ok {
				continue
			}
		}
		matched = append(matched, copyItem(item))
	}
	sort.Slice(matched, func(i, j int) bool {
		return strAttr(matched[i], "created_at") < strAttr(matched[j], "created_at")
	})

	if params.ExclusiveStartKey != nil {
		after := params.ExclusiveStartKey["order_id"].(*types.AttributeValueMemberS).Value
		for i, item := range matched {
			if strAttr(item, "order_id") == after {
				matched = matched[i+1:]
				break
			}
		}
	}

	out := &dyn.QueryOutput{}
	if m.pageSize > 0 && len(matched) > m.pageSize {
		matched = matched[:m.pageSize]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"order_id": matched[len(matched)-1]["order_id"]}
	}
	if params.Limit != nil && int(*params.Limit) < len(matched) {
		matched = matched[:*params.Limit]
	}
	out.Items = matched
	return out, nil
}

func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func resolveName(name string, names map[string]string) string {
	if real, ok := names[name]; ok {
		return real
	}
	return name
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
