package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ignite/scrub-gateway/internal/domain"
)

// dynamoAPI is the subset of the DynamoDB client the store uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps records in a DynamoDB table keyed by the string attribute "id".
type DynamoStore struct {
	client         dynamoAPI
	table          string
	allowlistTable string
	newID          func() string
	observer
}

// allowlistItem is one entry of the allowed-audience table.
type allowlistItem struct {
	ClientID string `dynamodbav:"clientId"`
}

// NewDynamoClient builds a DynamoDB client, pointed at endpoint (DynamoDB
// Local) when set.
func NewDynamoClient(cfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewDynamoStore creates a store over table, reading allowed audiences from allowlistTable.
func NewDynamoStore(client *dynamodb.Client, table, allowlistTable string, opts Options) *DynamoStore {
	return newDynamoStore(client, table, allowlistTable, opts)
}

func newDynamoStore(client dynamoAPI, table, allowlistTable string, opts Options) *DynamoStore {
	return &DynamoStore{
		client:         client,
		table:          table,
		allowlistTable: allowlistTable,
		newID:          uuid.NewString,
		observer:       observer{opts: opts},
	}
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Create stores rec under a new id. The put is conditional so an id is
// never overwritten.
func (s *DynamoStore) Create(ctx context.Context, rec *domain.FileRecord) (string, error) {
	rec.ID = s.newID()
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}

	err = s.call(ctx, "create", func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("putting record to DynamoDB: %w", err)
	}
	return rec.ID, nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*domain.FileRecord, bool, error) {
	var out *dynamodb.GetItemOutput
	err := s.call(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.table),
			Key:            s.key(id),
			ConsistentRead: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("getting record from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var rec domain.FileRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshaling record %s: %w", id, err)
	}
	return &rec, true, nil
}

func (s *DynamoStore) Update(ctx context.Context, id string, rec *domain.FileRecord) (bool, error) {
	rec.ID = id
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling record: %w", err)
	}

	err = s.call(ctx, "update", func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_exists(id)"),
		})
		return err
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("replacing record in DynamoDB: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) (bool, error) {
	var out *dynamodb.DeleteItemOutput
	err := s.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		out, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(s.table),
			Key:          s.key(id),
			ReturnValues: types.ReturnValueAllOld,
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deleting record from DynamoDB: %w", err)
	}
	return len(out.Attributes) > 0, nil
}

// List scans the whole table. Items that fail to decode are skipped.
func (s *DynamoStore) List(ctx context.Context) ([]domain.FileRecord, error) {
	var recs []domain.FileRecord
	err := s.call(ctx, "list", func(ctx context.Context) error {
		p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(s.table)})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, item := range page.Items {
				var rec domain.FileRecord
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					continue
				}
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	return recs, nil
}

func (s *DynamoStore) SetNotification(ctx context.Context, id string, n domain.Notification) (bool, error) {
	av, err := attributevalue.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("marshaling notification: %w", err)
	}

	err = s.call(ctx, "set_notification", func(ctx context.Context) error {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table),
			Key:                       s.key(id),
			UpdateExpression:          aws.String("SET notification = :n"),
			ConditionExpression:       aws.String("attribute_exists(id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":n": av},
		})
		return err
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("updating notification: %w", err)
	}
	return true, nil
}

// AllowedAudiences reads the clientId attribute of every allow-list entry.
func (s *DynamoStore) AllowedAudiences(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.call(ctx, "allowlist", func(ctx context.Context) error {
		p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
			TableName:            aws.String(s.allowlistTable),
			ProjectionExpression: aws.String("clientId"),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			var items []allowlistItem
			if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
				return fmt.Errorf("unmarshaling allow-list: %w", err)
			}
			for _, it := range items {
				ids = append(ids, it.ClientID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning allow-list: %w", err)
	}
	return cleanAudiences(ids), nil
}

// Ping checks the records table is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", func(ctx context.Context) error {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
		return err
	})
}
