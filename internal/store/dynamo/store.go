// Package dynamo stores documents as DynamoDB items.
//
// Documents are addressed by the table's key attributes. An update whose
// filter names the full key becomes a single UpdateItem; any other update
// scans the table for matches. Inserts and deletes use BatchWriteItem in
// chunks of 25 and re-drive unprocessed items.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "docsink/internal/errors"
	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// batchWriteLimit is the maximum number of requests in one BatchWriteItem call.
const batchWriteLimit = 25

// KeySchema names the table's key attributes.
type KeySchema struct {
	PartitionKey string
	SortKey      string
}

// Options configures a Store.
type Options struct {
	Table string
	Key   KeySchema
	// MaxUnprocessedRetries bounds re-drives of unprocessed batch items.
	MaxUnprocessedRetries int
	// UnprocessedBackoff is the base pause before a re-drive.
	UnprocessedBackoff time.Duration
	Logger             *zap.Logger
}

// Store is a persistence.StoreAdapter backed by a DynamoDB table.
type Store struct {
	client     Client
	table      string
	key        KeySchema
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// New creates a store writing to opts.Table.
func New(client Client, opts Options) (*Store, error) {
	if client == nil {
		return nil, errs.NewValidation("dynamodb client is required")
	}
	if opts.Table == "" {
		return nil, errs.NewValidation("table name is required")
	}
	if opts.Key.PartitionKey == "" {
		opts.Key.PartitionKey = persistence.IDField
	}
	if opts.MaxUnprocessedRetries <= 0 {
		opts.MaxUnprocessedRetries = 3
	}
	if opts.UnprocessedBackoff <= 0 {
		opts.UnprocessedBackoff = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		client:     client,
		table:      opts.Table,
		key:        opts.Key,
		maxRetries: opts.MaxUnprocessedRetries,
		backoff:    opts.UnprocessedBackoff,
		logger:     opts.Logger.With(zap.String("table", opts.Table)),
	}, nil
}

// CollectionName returns the table name.
func (s *Store) CollectionName() string {
	return s.table
}

// BulkWrite applies ops one by one. DynamoDB has no multi-item update, so
// the operations are not atomic as a group.
func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	var (
		result   persistence.BulkResult
		failures []persistence.OperationFailure
	)
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r, err := s.apply(ctx, op)
		if err != nil {
			failures = append(failures, persistence.OperationFailure{Index: i, Err: err})
			if ordered {
				break
			}
			continue
		}
		result.Add(r)
	}
	if len(failures) > 0 {
		return result, &persistence.BulkWriteError{Failures: failures}
	}
	return result, nil
}

func (s *Store) apply(ctx context.Context, op persistence.WriteOperation) (persistence.BulkResult, error) {
	switch op.Kind {
	case persistence.OpInsert:
		item, err := s.marshal(op.Document)
		if err != nil {
			return persistence.BulkResult{}, err
		}
		if err := s.putNew(ctx, item); err != nil {
			return persistence.BulkResult{}, err
		}
		return persistence.BulkResult{Inserted: 1}, nil

	case persistence.OpUpdateOne:
		if key, rest, ok := s.splitKey(op.Filter); ok {
			return s.updateByKey(ctx, key, rest, op.Update, op.Upsert)
		}
		return s.updateByScan(ctx, op, 1)

	case persistence.OpUpdateMany:
		return s.updateByScan(ctx, op, 0)

	default:
		return persistence.BulkResult{}, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

// splitKey separates the key attributes from the rest of the filter.
// ok is false when the filter does not name the full key.
func (s *Store) splitKey(filter map[string]any) (key, rest map[string]any, ok bool) {
	key = make(map[string]any, 2)
	rest = make(map[string]any, len(filter))
	for k, v := range filter {
		if s.isKeyAttr(k) {
			key[k] = v
		} else {
			rest[k] = v
		}
	}
	want := 1
	if s.key.SortKey != "" {
		want = 2
	}
	return key, rest, len(key) == want
}

func (s *Store) isKeyAttr(name string) bool {
	return name == s.key.PartitionKey || (s.key.SortKey != "" && name == s.key.SortKey)
}

// updateByKey sets the update fields on the item addressed by key. Non-key
// filter fields become equality conditions and, on upsert, fields of the new item.
// An upsert whose key names an item that does not match fails with ErrDuplicateID.
func (s *Store) updateByKey(ctx context.Context, key, rest, update map[string]any, upsert bool) (persistence.BulkResult, error) {
	av, err := attributevalue.MarshalMap(key)
	if err != nil {
		return persistence.BulkResult{}, fmt.Errorf("failed to marshal key: %w", err)
	}

	assign := make(map[string]any, len(rest)+len(update))
	if upsert {
		for k, v := range rest {
			assign[k] = v
		}
	}
	for k, v := range update {
		if s.isKeyAttr(k) {
			if !document.Equal(v, key[k]) {
				return persistence.BulkResult{}, errs.NewInvalidRecord(fmt.Sprintf("update would change key attribute %s", k))
			}
			continue
		}
		assign[k] = v
	}

	// Without upsert the item must exist and match. With upsert it must be
	// missing or match; an existing item that does not match keeps the key.
	exists := expression.Name(s.key.PartitionKey).AttributeExists()
	conds := equalityConditions(rest)
	switch {
	case !upsert:
		conds = append(conds, exists)
	case len(conds) > 0:
		conds = []expression.ConditionBuilder{
			expression.Or(expression.Name(s.key.PartitionKey).AttributeNotExists(), combine(conds)),
		}
	}

	input := &dynamodb.UpdateItemInput{
		TableName:    aws.String(s.table),
		Key:          av,
		ReturnValues: types.ReturnValueAllOld,
	}
	if err := applyExpression(input, assign, conds); err != nil {
		return persistence.BulkResult{}, err
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if upsert {
				return persistence.BulkResult{}, fmt.Errorf("%w: %v", document.ErrDuplicateID, err)
			}
			return persistence.BulkResult{}, nil
		}
		return persistence.BulkResult{}, apiError("failed to update item", err)
	}
	if len(out.Attributes) == 0 {
		return persistence.BulkResult{Upserted: 1}, nil
	}
	return persistence.BulkResult{Matched: 1, Modified: 1}, nil
}

// updateByScan updates every item matching the filter, or the first one
// when limit is 1. With upsert and no match, a new item is put.
func (s *Store) updateByScan(ctx context.Context, op persistence.WriteOperation, limit int) (persistence.BulkResult, error) {
	matches, err := s.scan(ctx, op.Filter, limit)
	if err != nil {
		return persistence.BulkResult{}, err
	}

	if len(matches) == 0 {
		if !op.Upsert {
			return persistence.BulkResult{}, nil
		}
		doc := make(persistence.Record, len(op.Filter)+len(op.Update))
		for k, v := range op.Filter {
			doc[k] = v
		}
		for k, v := range op.Update {
			doc[k] = v
		}
		item, err := s.marshal(doc)
		if err != nil {
			return persistence.BulkResult{}, err
		}
		if err := s.putNew(ctx, item); err != nil {
			return persistence.BulkResult{}, err
		}
		return persistence.BulkResult{Upserted: 1}, nil
	}

	var result persistence.BulkResult
	for _, m := range matches {
		key := s.keyOf(m)
		r, err := s.updateByKey(ctx, key, nil, op.Update, false)
		if err != nil {
			return result, err
		}
		result.Add(r)
	}
	return result, nil
}

// InsertMany puts docs with BatchWriteItem. Existing items with the same key are replaced.
func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	requests := make([]types.WriteRequest, 0, len(docs))
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		doc := d.Clone()
		if doc == nil {
			doc = persistence.Record{}
		}
		item, err := s.marshal(doc)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		ids = append(ids, doc[s.key.PartitionKey])
	}

	if err := s.batchWrite(ctx, requests); err != nil {
		return persistence.InsertResult{}, err
	}
	return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, nil
}

// DeleteByQuery scans for matching items and deletes them in batches.
func (s *Store) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	matches, err := s.scan(ctx, query, 0)
	if err != nil {
		return 0, err
	}

	requests := make([]types.WriteRequest, 0, len(matches))
	for _, m := range matches {
		key, err := attributevalue.MarshalMap(s.keyOf(m))
		if err != nil {
			return 0, fmt.Errorf("failed to marshal key: %w", err)
		}
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}

	if err := s.batchWrite(ctx, requests); err != nil {
		return 0, err
	}
	return int64(len(requests)), nil
}

// marshal converts a document to an item, assigning a partition key when missing.
func (s *Store) marshal(doc persistence.Record) (map[string]types.AttributeValue, error) {
	if v, ok := doc[s.key.PartitionKey]; !ok || v == nil || v == "" {
		doc = doc.Clone()
		if doc == nil {
			doc = persistence.Record{}
		}
		doc[s.key.PartitionKey] = uuid.NewString()
	}
	if s.key.SortKey != "" {
		if v, ok := doc[s.key.SortKey]; !ok || v == nil {
			return nil, errs.NewInvalidRecord(fmt.Sprintf("document has no value for sort key %s", s.key.SortKey))
		}
	}
	item, err := attributevalue.MarshalMap(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return item, nil
}

// putNew puts an item that must not exist yet.
func (s *Store) putNew(ctx context.Context, item map[string]types.AttributeValue) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.Name(s.key.PartitionKey).AttributeNotExists()).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %v", document.ErrDuplicateID, err)
		}
		return apiError("failed to put item", err)
	}
	return nil
}

func (s *Store) keyOf(doc persistence.Record) map[string]any {
	key := map[string]any{s.key.PartitionKey: doc[s.key.PartitionKey]}
	if s.key.SortKey != "" {
		key[s.key.SortKey] = doc[s.key.SortKey]
	}
	return key
}

// scan pages through the table and returns items matching filter.
// A positive limit stops after that many matches.
func (s *Store) scan(ctx context.Context, filter map[string]any, limit int) ([]persistence.Record, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	if conds := equalityConditions(filter); len(conds) > 0 {
		expr, err := expression.NewBuilder().WithFilter(combine(conds)).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var out []persistence.Record
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apiError("failed to scan table", err)
		}
		for _, item := range page.Items {
			var doc persistence.Record
			if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
				s.logger.Warn("Failed to unmarshal item", zap.Error(err))
				continue
			}
			if !document.Matches(doc, filter) {
				continue
			}
			out = append(out, doc)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// batchWrite sends requests in chunks and re-drives unprocessed items.
func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += batchWriteLimit {
		end := i + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		pending := requests[i:end]
		for retry := 0; len(pending) > 0; retry++ {
			if retry > s.maxRetries {
				return errs.NewTransientStore(
					fmt.Sprintf("%d items unprocessed after %d retries", len(pending), s.maxRetries), nil)
			}
			if retry > 0 {
				backoff := time.Duration(retry*retry) * s.backoff
				s.logger.Debug("Found unprocessed items, retrying",
					zap.Int("unprocessedCount", len(pending)),
					zap.Int("retry", retry),
					zap.Duration("backoff", backoff),
				)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			}

			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.table: pending},
			})
			if err != nil {
				return apiError("failed to batch write items", err)
			}
			pending = out.UnprocessedItems[s.table]
		}
	}
	return nil
}

// apiError marks throttling and service faults as transient store errors.
func apiError(message string, err error) error {
	if errs.IsRetryable(err) {
		return errs.NewTransientStore(message, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func equalityConditions(filter map[string]any) []expression.ConditionBuilder {
	names := make([]string, 0, len(filter))
	for k := range filter {
		names = append(names, k)
	}
	sort.Strings(names)

	conds := make([]expression.ConditionBuilder, 0, len(names))
	for _, k := range names {
		conds = append(conds, expression.Name(k).Equal(expression.Value(filter[k])))
	}
	return conds
}

func combine(conds []expression.ConditionBuilder) expression.ConditionBuilder {
	if len(conds) == 1 {
		return conds[0]
	}
	return expression.And(conds[0], conds[1], conds[2:]...)
}

// applyExpression fills the update and condition expressions of input.
func applyExpression(input *dynamodb.UpdateItemInput, assign map[string]any, conds []expression.ConditionBuilder) error {
	if len(assign) == 0 && len(conds) == 0 {
		return nil
	}

	builder := expression.NewBuilder()
	if len(assign) > 0 {
		names := make([]string, 0, len(assign))
		for k := range assign {
			names = append(names, k)
		}
		sort.Strings(names)

		var update expression.UpdateBuilder
		for _, k := range names {
			update = update.Set(expression.Name(k), expression.Value(assign[k]))
		}
		builder = builder.WithUpdate(update)
	}
	if len(conds) > 0 {
		builder = builder.WithCondition(combine(conds))
	}

	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}
	if len(assign) > 0 {
		input.UpdateExpression = expr.Update()
	}
	if len(conds) > 0 {
		input.ConditionExpression = expr.Condition()
	}
	input.ExpressionAttributeNames = expr.Names()
	input.ExpressionAttributeValues = expr.Values()
	return nil
}
