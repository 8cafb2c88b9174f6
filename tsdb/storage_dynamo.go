package tsdb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DynamoConfig configures the DynamoDB backend. Local points the client at
// a DynamoDB-local endpoint with dummy credentials.
type DynamoConfig struct {
	TableName       string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Local           bool
	CreateTable     bool
}

// DynamoStorage stores buckets in one table: hash key "key" (S), range key
// "range_key" (N), attribute "data" holding the raw bucket bytes. Inserts
// use a conditional put so a populated range key rejects the write.
type DynamoStorage struct {
	svc       *dynamodb.DynamoDB
	tableName string
	local     bool
	log       *zap.SugaredLogger
}

func NewDynamoStorage(cfg DynamoConfig, log *zap.SugaredLogger) (*DynamoStorage, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Local {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:8000"
		}
		awsCfg = awsCfg.
			WithRegion("none").
			WithEndpoint(endpoint).
			WithCredentials(credentials.NewStaticCredentials("none", "none", ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "dynamo session")
	}
	s := &DynamoStorage{
		svc:       dynamodb.New(sess),
		tableName: fmt.Sprintf("stss_%s", cfg.TableName),
		local:     cfg.Local,
		log:       log,
	}
	if cfg.CreateTable {
		if err := s.CreateTable(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateTable creates the backing table; an already existing table is fine.
func (s *DynamoStorage) CreateTable(ctx context.Context) error {
	s.log.Warnw("creating table", "table", s.tableName)
	_, err := s.svc.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("key"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("range_key"), AttributeType: aws.String("N")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("key"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("range_key"), KeyType: aws.String("RANGE")},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(123),
			WriteCapacityUnits: aws.Int64(123),
		},
	})
	if isAWSError(err, dynamodb.ErrCodeResourceInUseException) {
		return nil
	}
	return errors.Wrap(err, "dynamo create table")
}

// DropTable deletes the backing table. Refuses on anything but a local
// endpoint.
func (s *DynamoStorage) DropTable(ctx context.Context) error {
	if !s.local {
		return errors.New("refusing to delete a non-local table")
	}
	s.log.Warnw("deleting table", "table", s.tableName)
	_, err := s.svc.DeleteTableWithContext(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(s.tableName),
	})
	return errors.Wrap(err, "dynamo drop table")
}

func isAWSError(err error, code string) bool {
	var awsErr awserr.Error
	return errors.As(err, &awsErr) && awsErr.Code() == code
}

func (s *DynamoStorage) toBucket(item map[string]*dynamodb.AttributeValue) (*Bucket, error) {
	keyAttr, ok := item["key"]
	if !ok || keyAttr.S == nil {
		return nil, errors.New("dynamo item without key attribute")
	}
	dataAttr, ok := item["data"]
	if !ok {
		return nil, errors.New("dynamo item without data attribute")
	}
	b, err := DecodeBucket(*keyAttr.S, dataAttr.B)
	if err != nil {
		return nil, err
	}
	b.existing = true
	return b, nil
}

func (s *DynamoStorage) toBuckets(items []map[string]*dynamodb.AttributeValue) ([]*Bucket, error) {
	out := make([]*Bucket, 0, len(items))
	for _, item := range items {
		b, err := s.toBucket(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *DynamoStorage) item(b *Bucket) (map[string]*dynamodb.AttributeValue, error) {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return nil, err
	}
	return map[string]*dynamodb.AttributeValue{
		"key":       {S: aws.String(b.Key())},
		"range_key": {N: aws.String(strconv.FormatUint(uint64(rangeKey), 10))},
		"data":      {B: b.Bytes()},
	}, nil
}

func (s *DynamoStorage) Get(ctx context.Context, key string, rangeKey uint32) (*Bucket, error) {
	result, err := s.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"key":       {S: aws.String(key)},
			"range_key": {N: aws.String(strconv.FormatUint(uint64(rangeKey), 10))},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "dynamo get")
	}
	if result.Item == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBucket(result.Item)
}

func (s *DynamoStorage) Insert(ctx context.Context, b *Bucket) error {
	item, err := s.item(b)
	if err != nil {
		return err
	}
	_, err = s.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String("key")},
	})
	if isAWSError(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		return errors.Wrap(ErrConflict, b.Key())
	}
	return errors.Wrap(err, "dynamo insert")
}

// Update is an unconditional put of the same item shape.
func (s *DynamoStorage) Update(ctx context.Context, b *Bucket) error {
	item, err := s.item(b)
	if err != nil {
		return err
	}
	_, err = s.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return errors.Wrap(err, "dynamo update")
}

// fullQuery follows LastEvaluatedKey until the query is drained.
func (s *DynamoStorage) fullQuery(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]*dynamodb.AttributeValue, error) {
	var items []map[string]*dynamodb.AttributeValue
	for {
		result, err := s.svc.QueryWithContext(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "dynamo query")
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (s *DynamoStorage) Query(ctx context.Context, key string, rangeMin, rangeMax uint32) ([]*Bucket, error) {
	items, err := s.fullQuery(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.tableName),
		ConsistentRead:           aws.Bool(true),
		ScanIndexForward:         aws.Bool(true),
		KeyConditionExpression:   aws.String("#k = :k AND range_key BETWEEN :lo AND :hi"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String("key")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":k":  {S: aws.String(key)},
			":lo": {N: aws.String(strconv.FormatUint(uint64(rangeMin), 10))},
			":hi": {N: aws.String(strconv.FormatUint(uint64(rangeMax), 10))},
		},
	})
	if err != nil {
		return nil, err
	}
	left, err := s.leftItems(ctx, key, rangeMin, 1)
	if err != nil {
		return nil, err
	}
	if len(left) > 0 && (len(items) == 0 || !sameRangeKey(left[0], items[0])) {
		items = append(left[:1:1], items...)
	}
	return s.toBuckets(items)
}

func sameRangeKey(a, b map[string]*dynamodb.AttributeValue) bool {
	ra, rb := a["range_key"], b["range_key"]
	return ra != nil && rb != nil && ra.N != nil && rb.N != nil && *ra.N == *rb.N
}

func (s *DynamoStorage) keyQuery(ctx context.Context, key string, forward bool, limit int) ([]map[string]*dynamodb.AttributeValue, error) {
	result, err := s.svc.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.tableName),
		ConsistentRead:           aws.Bool(true),
		ScanIndexForward:         aws.Bool(forward),
		Limit:                    aws.Int64(int64(limit)),
		KeyConditionExpression:   aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String("key")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":k": {S: aws.String(key)},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "dynamo query")
	}
	return result.Items, nil
}

func (s *DynamoStorage) First(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	items, err := s.keyQuery(ctx, key, true, limit)
	if err != nil {
		return nil, err
	}
	if len(items) < 1 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return s.toBuckets(items)
}

func (s *DynamoStorage) Last(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	items, err := s.keyQuery(ctx, key, false, limit)
	if err != nil {
		return nil, err
	}
	if len(items) < 1 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return s.toBuckets(items)
}

func (s *DynamoStorage) leftItems(ctx context.Context, key string, rangeKey uint32, limit int) ([]map[string]*dynamodb.AttributeValue, error) {
	result, err := s.svc.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.tableName),
		ConsistentRead:           aws.Bool(true),
		ScanIndexForward:         aws.Bool(false),
		Limit:                    aws.Int64(int64(limit)),
		KeyConditionExpression:   aws.String("#k = :k AND range_key <= :rk"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String("key")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":k":  {S: aws.String(key)},
			":rk": {N: aws.String(strconv.FormatUint(uint64(rangeKey), 10))},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "dynamo left")
	}
	return result.Items, nil
}

func (s *DynamoStorage) Left(ctx context.Context, key string, rangeKey uint32, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	items, err := s.leftItems(ctx, key, rangeKey, limit)
	if err != nil {
		return nil, err
	}
	if len(items) < 1 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBuckets(items)
}

func (s *DynamoStorage) Range(ctx context.Context, key string) (*TimeRange, error) {
	return storageRange(ctx, s, key)
}

func (s *DynamoStorage) Count(ctx context.Context, key string) (int, error) {
	return storageCount(ctx, s, key)
}

func (s *DynamoStorage) Close() error { return nil }
