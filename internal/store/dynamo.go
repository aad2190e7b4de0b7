package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// QueryIDIndex is the global secondary index on queryId.
const QueryIDIndex = "queryIdIndex"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo stores request records in the query request table and download
// records in the secure download table.
type Dynamo struct {
	client        DynamoAPI
	requestTable  string
	downloadTable string
}

// NewDynamo returns a store over the request and download tables.
func NewDynamo(client DynamoAPI, requestTable, downloadTable string) *Dynamo {
	return &Dynamo{client: client, requestTable: requestTable, downloadTable: downloadTable}
}

// PutIfAbsent writes rec unless a record for its ticket exists. It reports
// whether the write happened.
func (d *Dynamo) PutIfAbsent(ctx context.Context, rec model.RequestRecord) (bool, error) {
	err := d.putConditional(ctx, d.requestTable, rec, expression.AttributeNotExists(expression.Name("ticketId")))
	if errors.Is(err, ErrConflict) {
		slog.Default().InfoContext(ctx, "request record already exists", "ticket_id", rec.TicketID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get reads a record with a consistent read.
func (d *Dynamo) Get(ctx context.Context, ticketID string) (model.RequestRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.requestTable),
		Key:            map[string]types.AttributeValue{"ticketId": &types.AttributeValueMemberS{Value: ticketID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("get request record %s: %w", ticketID, err)
	}
	if len(out.Item) == 0 {
		return model.RequestRecord{}, ErrNotFound
	}
	var rec model.RequestRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return model.RequestRecord{}, fmt.Errorf("decode request record %s: %w", ticketID, err)
	}
	return rec, nil
}

// Update applies fn to the current record and writes it back only if no
// other writer got there first.
func (d *Dynamo) Update(ctx context.Context, ticketID string, fn Mutator) (model.RequestRecord, error) {
	cur, err := d.Get(ctx, ticketID)
	if err != nil {
		return model.RequestRecord{}, err
	}
	next := cloneRecord(cur)
	if err := fn(&next); err != nil {
		return model.RequestRecord{}, err
	}
	next.TicketID = cur.TicketID
	next.Version = cur.Version + 1

	cond := expression.Name("version").Equal(expression.Value(cur.Version))
	if err := d.putConditional(ctx, d.requestTable, next, cond); err != nil {
		return model.RequestRecord{}, err
	}
	return next, nil
}

// FindByQueryID looks a record up through the query id index.
func (d *Dynamo) FindByQueryID(ctx context.Context, queryID string) (model.RequestRecord, error) {
	key := expression.Key("queryId").Equal(expression.Value(queryID))
	expr, err := expression.NewBuilder().WithKeyCondition(key).Build()
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("build query expression: %w", err)
	}
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.requestTable),
		IndexName:                 aws.String(QueryIDIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("query %s for %s: %w", QueryIDIndex, queryID, err)
	}
	if len(out.Items) == 0 {
		return model.RequestRecord{}, ErrNotFound
	}
	var hit model.RequestRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &hit); err != nil {
		return model.RequestRecord{}, fmt.Errorf("decode request record for query %s: %w", queryID, err)
	}
	// index reads are eventually consistent; re-read the base item
	return d.Get(ctx, hit.TicketID)
}

// PutDownload writes rec, returning ErrExists if its hash is taken.
func (d *Dynamo) PutDownload(ctx context.Context, rec model.SecureDownloadRecord) error {
	err := d.putConditional(ctx, d.downloadTable, rec, expression.AttributeNotExists(expression.Name("downloadHash")))
	if errors.Is(err, ErrConflict) {
		return ErrExists
	}
	return err
}

func (d *Dynamo) putConditional(ctx context.Context, table string, item any, cond expression.ConditionBuilder) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("encode item for %s: %w", table, err)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition for %s: %w", table, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("put item into %s: %w", table, err)
	}
	return nil
}
