// Package dynamotest provides an in-memory DynamoDB used by store tests.
//
// It understands the small expression language the stores in this module
// emit: SET/ADD/REMOVE update clauses and conditions built from
// attribute_exists, attribute_not_exists and binary comparisons joined by a
// single level of AND/OR. It is not a general DynamoDB emulator.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake is a goroutine-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]map[string]types.AttributeValue
	fail   map[string]error
	calls  map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		keys:   map[string]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
		fail:   map[string]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by the given partition key attribute.
func (f *Fake) CreateTable(name, partitionKey string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = partitionKey
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return f
}

// FailOn makes every subsequent call of op ("PutItem", "UpdateItem", ...)
// return err. A nil err clears the failure.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed stores item as-is, bypassing conditions.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.keyOf(table, item)
	if err != nil {
		return err
	}
	f.tables[table][pk] = clone(item)
	return nil
}

// Item returns a copy of the stored item or nil.
func (f *Fake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return clone(item)
}

// Len returns the number of items stored in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(sdkaws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	f.tables[table][pk] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	item, pk, err := f.update(table, params.Key, sdkaws.ToString(params.UpdateExpression), sdkaws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: clone(item)}, nil
}

// Scan returns items in key order. Limit and ExclusiveStartKey page through
// the table; FilterExpression is not supported.
func (f *Fake) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	rows, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %q", table)
	}
	if params.FilterExpression != nil {
		return nil, errors.New("dynamotest: scan filters are not supported")
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	start := 0
	if len(params.ExclusiveStartKey) > 0 {
		after, err := f.keyOf(table, params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for start < len(keys) && !keyLess(after, keys[start]) {
			start++
		}
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:] {
		if params.Limit != nil && len(out.Items) == int(*params.Limit) {
			last := out.Items[len(out.Items)-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{f.keys[table]: last[f.keys[table]]}
			break
		}
		out.Items = append(out.Items, clone(rows[k]))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	return out, nil
}

// keyLess orders numeric keys numerically and the rest lexically.
func keyLess(a, b string) bool {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return x < y
	}
	return a < b
}

func (f *Fake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table, pk string
		item      map[string]types.AttributeValue
	}
	writes := make([]write, 0, len(params.TransactItems))

	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			p := it.Put
			table := sdkaws.ToString(p.TableName)
			pk, err := f.keyOf(table, p.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(sdkaws.ToString(p.ConditionExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues, f.tables[table][pk])
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &types.TransactionCanceledException{Message: sdkaws.String("conditional check failed")}
			}
			writes = append(writes, write{table: table, pk: pk, item: clone(p.Item)})
		case it.Update != nil:
			u := it.Update
			table := sdkaws.ToString(u.TableName)
			item, pk, err := f.update(table, u.Key, sdkaws.ToString(u.UpdateExpression), sdkaws.ToString(u.ConditionExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					return nil, &types.TransactionCanceledException{Message: sdkaws.String("conditional check failed")}
				}
				return nil, err
			}
			writes = append(writes, write{table: table, pk: pk, item: item})
		case it.ConditionCheck != nil:
			c := it.ConditionCheck
			table := sdkaws.ToString(c.TableName)
			pk, err := f.keyOf(table, c.Key)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(sdkaws.ToString(c.ConditionExpression), c.ExpressionAttributeNames, c.ExpressionAttributeValues, f.tables[table][pk])
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &types.TransactionCanceledException{Message: sdkaws.String("conditional check failed")}
			}
		default:
			return nil, errors.New("dynamotest: unsupported transact item")
		}
	}

	for _, w := range writes {
		f.tables[w.table][w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *Fake) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	name, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	av, ok := item[name]
	if !ok {
		return "", fmt.Errorf("dynamotest: missing key attribute %q", name)
	}
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return "", fmt.Errorf("dynamotest: unsupported key type %T", av)
	}
}

func (f *Fake) update(table string, key map[string]types.AttributeValue, updateExpr, condExpr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, string, error) {
	pk, err := f.keyOf(table, key)
	if err != nil {
		return nil, "", err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(condExpr, names, values, current)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", conditionFailed()
	}

	item := clone(current)
	if item == nil {
		item = clone(key)
	}
	if err := applyUpdate(updateExpr, names, values, item); err != nil {
		return nil, "", err
	}
	return item, pk, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
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

var clauseRE = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s`)

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	locs := clauseRE.FindAllStringSubmatchIndex(expr, -1)
	for i, loc := range locs {
		keyword := expr[loc[2]:loc[3]]
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, part := range strings.Split(body, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			switch keyword {
			case "SET":
				lhs, rhs, ok := strings.Cut(part, "=")
				if !ok {
					return fmt.Errorf("dynamotest: bad SET clause %q", part)
				}
				v, err := operand(strings.TrimSpace(rhs), values)
				if err != nil {
					return err
				}
				item[resolve(strings.TrimSpace(lhs), names)] = v
			case "ADD":
				fields := strings.Fields(part)
				if len(fields) != 2 {
					return fmt.Errorf("dynamotest: bad ADD clause %q", part)
				}
				name := resolve(fields[0], names)
				delta, err := operand(fields[1], values)
				if err != nil {
					return err
				}
				d, ok := number(delta)
				if !ok {
					return fmt.Errorf("dynamotest: ADD needs a number, got %T", delta)
				}
				cur := 0.0
				if existing, ok := item[name]; ok {
					cur, _ = number(existing)
				}
				item[name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(cur+d, 'f', -1, 64)}
			case "REMOVE":
				delete(item, resolve(part, names))
			}
		}
	}
	return nil
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, disjunct := range strings.Split(expr, " OR ") {
		all := true
		for _, term := range strings.Split(disjunct, " AND ") {
			ok, err := evalTerm(strings.Trim(strings.TrimSpace(term), "()"), names, values, item)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

var ops = []string{"<>", "<=", ">=", "=", "<", ">"}

func evalTerm(term string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if arg, ok := fnArg(term, "attribute_not_exists"); ok {
		_, exists := item[resolve(arg, names)]
		return !exists, nil
	}
	if arg, ok := fnArg(term, "attribute_exists"); ok {
		_, exists := item[resolve(arg, names)]
		return exists, nil
	}
	for _, op := range ops {
		lhs, rhs, found := strings.Cut(term, " "+op+" ")
		if !found {
			continue
		}
		want, err := operand(strings.TrimSpace(rhs), values)
		if err != nil {
			return false, err
		}
		got, ok := item[resolve(strings.TrimSpace(lhs), names)]
		if !ok {
			return false, nil
		}
		cmp, comparable := compare(got, want)
		if !comparable {
			return false, nil
		}
		switch op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
}

func fnArg(term, fn string) (string, bool) {
	if !strings.HasPrefix(term, fn+"(") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(term, fn+"("), ")"), true
}

func resolve(path string, names map[string]string) string {
	if strings.HasPrefix(path, "#") {
		if n, ok := names[path]; ok {
			return n
		}
	}
	return path
}

func operand(token string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	v, ok := values[token]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing expression value %q", token)
	}
	return v, nil
}

func number(av types.AttributeValue) (float64, bool) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	return f, err == nil
}

func compare(a, b types.AttributeValue) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(*types.AttributeValueMemberS)
	if !ok {
		return 0, false
	}
	bs, ok := b.(*types.AttributeValueMemberS)
	if !ok {
		return 0, false
	}
	return strings.Compare(as.Value, bs.Value), true
}
