package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// AWSStoreConfig holds configuration for the AWS history store
type AWSStoreConfig struct {
	// DynamoDB settings
	DynamoDBTable  string `json:"dynamodb_table"`
	DynamoDBRegion string `json:"dynamodb_region"`

	// S3 settings
	S3Bucket string `json:"s3_bucket"`
	S3Region string `json:"s3_region"`
	S3Prefix string `json:"s3_prefix,omitempty"`

	// Endpoint override for LocalStack or custom endpoints
	Endpoint string `json:"endpoint,omitempty"`
}

// AWSStore implements HistoryStore with DynamoDB for record metadata and
// S3 for the large blobs (parameters, outputs, error details).
type AWSStore struct {
	config       AWSStoreConfig
	dynamoClient *dynamodb.Client
	s3Client     *s3.Client
	logger       *logging.Logger
}

// recordBlobs is the S3 payload stored next to each DynamoDB item
type recordBlobs struct {
	Parameters   map[string]interface{}       `json:"parameters,omitempty"`
	Outputs      map[string]interface{}       `json:"outputs,omitempty"`
	ErrorDetails []interfaces.DiagnosticEntry `json:"error_details,omitempty"`
}

// NewAWSStore creates the store and ensures its table and bucket exist
func NewAWSStore(cfg AWSStoreConfig) (*AWSStore, error) {
	if err := validateAWSConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid AWS configuration: %w", err)
	}

	awsCfg, err := loadAWSConfigForEndpoint(cfg.DynamoDBRegion, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	store := &AWSStore{
		config:       cfg,
		dynamoClient: createDynamoDBClient(awsCfg, cfg.Endpoint),
		s3Client:     createS3Client(awsCfg, cfg.Endpoint),
		logger:       logging.NewLogger("history-aws"),
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize AWS history store: %w", err)
	}
	return store, nil
}

func validateAWSConfig(cfg AWSStoreConfig) error {
	if cfg.DynamoDBTable == "" {
		return fmt.Errorf("DynamoDB table name is required")
	}
	if cfg.DynamoDBRegion == "" {
		return fmt.Errorf("DynamoDB region is required")
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("S3 bucket name is required")
	}
	if cfg.S3Region == "" {
		return fmt.Errorf("S3 region is required")
	}
	return nil
}

// isLocalStackOrTestEnv detects if we're running in a LocalStack or test environment
func isLocalStackOrTestEnv(endpoint string) bool {
	if endpoint != "" {
		endpointLower := strings.ToLower(endpoint)
		if strings.Contains(endpointLower, "localstack") || strings.Contains(endpointLower, "localhost") {
			return true
		}
	}
	if os.Getenv("ARMATURE_USE_LOCALSTACK") == "true" || os.Getenv("LOCALSTACK_ENDPOINT") != "" {
		return true
	}
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	return false
}

func loadAWSConfigForEndpoint(region, endpoint string) (aws.Config, error) {
	configOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if isLocalStackOrTestEnv(endpoint) {
		configOptions = append(configOptions,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(), configOptions...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func createDynamoDBClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	if endpoint != "" {
		return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg)
}

func createS3Client(awsCfg aws.Config, endpoint string) *s3.Client {
	if endpoint != "" {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for LocalStack
		})
	}
	return s3.NewFromConfig(awsCfg)
}

// initialize sets up the DynamoDB table and S3 bucket with retries for
// transient startup failures
func (a *AWSStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	maxRetries := 3
	retryDelay := 2 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := a.ensureDynamoDBTable(ctx); err != nil {
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return fmt.Errorf("timeout during DynamoDB table initialization: %w", ctx.Err())
				case <-time.After(retryDelay):
					continue
				}
			}
			return fmt.Errorf("failed to ensure DynamoDB table (attempt %d/%d): %w", attempt, maxRetries, err)
		}

		if err := a.ensureS3Bucket(ctx); err != nil {
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return fmt.Errorf("timeout during S3 bucket initialization: %w", ctx.Err())
				case <-time.After(retryDelay):
					continue
				}
			}
			return fmt.Errorf("failed to ensure S3 bucket (attempt %d/%d): %w", attempt, maxRetries, err)
		}
		break
	}
	return nil
}

func (a *AWSStore) ensureDynamoDBTable(ctx context.Context) error {
	describeResp, err := a.dynamoClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.DynamoDBTable),
	})
	if err == nil {
		if describeResp.Table.TableStatus == types.TableStatusActive {
			return nil
		}
		waiter := dynamodb.NewTableExistsWaiter(a.dynamoClient)
		if waitErr := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(a.config.DynamoDBTable),
		}, 5*time.Minute); waitErr != nil {
			return fmt.Errorf("failed to wait for existing table to be active: %w", waitErr)
		}
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table: %w", err)
	}

	_, createErr := a.dynamoClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(a.config.DynamoDBTable),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("PK"), // Partition key: deployment name
				KeyType:       types.KeyTypeHash,
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("PK"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("Status"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("StartTime"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("StatusIndex"),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("Status"),
						KeyType:       types.KeyTypeHash,
					},
					{
						AttributeName: aws.String("StartTime"),
						KeyType:       types.KeyTypeRange,
					},
				},
				Projection: &types.Projection{
					ProjectionType: types.ProjectionTypeAll,
				},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if createErr != nil {
		var alreadyExists *types.ResourceInUseException
		if !errors.As(createErr, &alreadyExists) {
			return fmt.Errorf("failed to create DynamoDB table: %w", createErr)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(a.dynamoClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.DynamoDBTable),
	}, 10*time.Minute); err != nil {
		return fmt.Errorf("failed to wait for table to be active: %w", err)
	}
	return nil
}

func (a *AWSStore) ensureS3Bucket(ctx context.Context) error {
	_, err := a.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.config.S3Bucket),
	})
	if err == nil {
		return nil
	}

	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noBucket) || strings.Contains(err.Error(), "NotFound") {
		createInput := &s3.CreateBucketInput{
			Bucket: aws.String(a.config.S3Bucket),
		}
		// LocalStack has issues with LocationConstraint, and us-east-1 doesn't accept it
		isLocalStack := isLocalStackOrTestEnv(a.config.Endpoint)
		if a.config.S3Region != "us-east-1" && !isLocalStack {
			createInput.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(a.config.S3Region),
			}
		}
		if _, err := a.s3Client.CreateBucket(ctx, createInput); err != nil {
			return fmt.Errorf("failed to create S3 bucket: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to access S3 bucket: %w", err)
}

// Create inserts a new record keyed by deployment name
func (a *AWSStore) Create(ctx context.Context, record *interfaces.DeploymentRecord) error {
	if record == nil || record.DeploymentName == "" {
		return fmt.Errorf("deployment record requires a deployment name")
	}

	now := time.Now()
	c := record.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	item := a.marshalRecord(c)
	_, err := a.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.config.DynamoDBTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("deployment record %s already exists", record.DeploymentName)
		}
		return fmt.Errorf("failed to store deployment record: %w", err)
	}

	return a.putBlobs(ctx, c)
}

// Update applies a partial update via read-modify-write. The monotonicity
// check happens on the freshly read record, so replaying the same terminal
// update is a no-op rather than an error.
func (a *AWSStore) Update(ctx context.Context, deploymentName string, update interfaces.RecordUpdate) error {
	record, err := a.Get(ctx, deploymentName)
	if err != nil {
		return err
	}

	if err := applyUpdate(record, update, time.Now()); err != nil {
		return err
	}

	item := a.marshalRecord(record)
	if _, err := a.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.config.DynamoDBTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to update deployment record: %w", err)
	}
	return a.putBlobs(ctx, record)
}

// Get returns the record, re-joining metadata with its S3 blobs
func (a *AWSStore) Get(ctx context.Context, deploymentName string) (*interfaces.DeploymentRecord, error) {
	resp, err := a.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.config.DynamoDBTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: deploymentName},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment record: %w", err)
	}
	if resp.Item == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, deploymentName)
	}

	record, err := a.unmarshalRecord(resp.Item)
	if err != nil {
		return nil, err
	}
	if err := a.getBlobs(ctx, record); err != nil {
		// A record without blobs is still usable metadata
		a.logger.Warnf("failed to load blobs for %s: %v", deploymentName, err)
	}
	return record, nil
}

// List scans the table and filters client-side. History volume is modest
// (one item per deployment) so a scan is acceptable here.
func (a *AWSStore) List(ctx context.Context, filter interfaces.RecordFilter) ([]*interfaces.DeploymentRecord, error) {
	records, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []*interfaces.DeploymentRecord
	for _, record := range records {
		if matchesFilter(record, filter) {
			out = append(out, record)
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Statistics aggregates the full history at query time
func (a *AWSStore) Statistics(ctx context.Context) (*interfaces.DeploymentStatistics, error) {
	records, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	return computeStatistics(records, time.Now()), nil
}

// Trends buckets history per day over the trailing window
func (a *AWSStore) Trends(ctx context.Context, days int) ([]interfaces.TrendPoint, error) {
	records, err := a.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	return computeTrends(records, days, time.Now()), nil
}

// Cleanup deletes terminal records older than the cutoff
func (a *AWSStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := a.scanAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, record := range records {
		if !cleanupEligible(record, cutoff) {
			continue
		}
		if _, err := a.dynamoClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(a.config.DynamoDBTable),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: record.DeploymentName},
			},
		}); err != nil {
			a.logger.Warnf("failed to delete record %s: %v", record.DeploymentName, err)
			continue
		}
		if _, err := a.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.config.S3Bucket),
			Key:    aws.String(a.blobKey(record.DeploymentName)),
		}); err != nil {
			a.logger.Warnf("failed to delete blobs for %s: %v", record.DeploymentName, err)
		}
		removed++
	}
	if removed > 0 {
		a.logger.Infof("cleanup removed %d deployment records", removed)
	}
	return removed, nil
}

// Ping verifies both backing services are reachable
func (a *AWSStore) Ping(ctx context.Context) error {
	if _, err := a.dynamoClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.DynamoDBTable),
	}); err != nil {
		return fmt.Errorf("DynamoDB unreachable: %w", err)
	}
	if _, err := a.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.config.S3Bucket),
	}); err != nil {
		return fmt.Errorf("S3 unreachable: %w", err)
	}
	return nil
}

// Close is a no-op: the AWS SDK clients hold no persistent connections
func (a *AWSStore) Close() error {
	return nil
}

func (a *AWSStore) scanAll(ctx context.Context) ([]*interfaces.DeploymentRecord, error) {
	var records []*interfaces.DeploymentRecord
	var startKey map[string]types.AttributeValue

	for {
		resp, err := a.dynamoClient.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(a.config.DynamoDBTable),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment records: %w", err)
		}
		for _, item := range resp.Items {
			record, err := a.unmarshalRecord(item)
			if err != nil {
				a.logger.Warnf("skipping malformed record: %v", err)
				continue
			}
			records = append(records, record)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return records, nil
}

func (a *AWSStore) blobKey(deploymentName string) string {
	prefix := a.config.S3Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%srecords/%s.json", prefix, deploymentName)
}

func (a *AWSStore) putBlobs(ctx context.Context, record *interfaces.DeploymentRecord) error {
	blobs := recordBlobs{
		Parameters:   record.Parameters,
		Outputs:      record.Outputs,
		ErrorDetails: record.ErrorDetails,
	}
	data, err := json.Marshal(blobs)
	if err != nil {
		return fmt.Errorf("failed to encode record blobs: %w", err)
	}

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.S3Bucket),
		Key:         aws.String(a.blobKey(record.DeploymentName)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store record blobs: %w", err)
	}
	return nil
}

func (a *AWSStore) getBlobs(ctx context.Context, record *interfaces.DeploymentRecord) error {
	resp, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.S3Bucket),
		Key:    aws.String(a.blobKey(record.DeploymentName)),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch record blobs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read record blobs: %w", err)
	}

	var blobs recordBlobs
	if err := json.Unmarshal(data, &blobs); err != nil {
		return fmt.Errorf("failed to decode record blobs: %w", err)
	}
	record.Parameters = blobs.Parameters
	record.Outputs = blobs.Outputs
	record.ErrorDetails = blobs.ErrorDetails
	return nil
}

func (a *AWSStore) marshalRecord(record *interfaces.DeploymentRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: record.DeploymentName},
		"ResourceGroup": &types.AttributeValueMemberS{Value: record.ResourceGroup},
		"TemplateName":  &types.AttributeValueMemberS{Value: record.TemplateName},
		"Location":      &types.AttributeValueMemberS{Value: record.Location},
		"Project":       &types.AttributeValueMemberS{Value: record.Project},
		"Environment":   &types.AttributeValueMemberS{Value: record.Environment},
		"Status":        &types.AttributeValueMemberS{Value: string(record.Status)},
		"StartTime":     &types.AttributeValueMemberS{Value: record.StartTime.UTC().Format(time.RFC3339Nano)},
		"ResourceCount": &types.AttributeValueMemberN{Value: strconv.Itoa(record.ResourceCount)},
		"RetryCount":    &types.AttributeValueMemberN{Value: strconv.Itoa(record.RetryCount)},
		"CreatedAt":     &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"UpdatedAt":     &types.AttributeValueMemberS{Value: record.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"BlobKey":       &types.AttributeValueMemberS{Value: a.blobKey(record.DeploymentName)},
	}
	if record.EndTime != nil {
		item["EndTime"] = &types.AttributeValueMemberS{Value: record.EndTime.UTC().Format(time.RFC3339Nano)}
	}
	if record.DurationSeconds != nil {
		item["DurationSeconds"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*record.DurationSeconds, 10)}
	}
	return item
}

func (a *AWSStore) unmarshalRecord(item map[string]types.AttributeValue) (*interfaces.DeploymentRecord, error) {
	record := &interfaces.DeploymentRecord{}

	getString := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := item[key].(*types.AttributeValueMemberN); ok {
			if n, err := strconv.Atoi(v.Value); err == nil {
				return n
			}
		}
		return 0
	}
	getTime := func(key string) time.Time {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
				return t
			}
		}
		return time.Time{}
	}

	record.DeploymentName = getString("PK")
	if record.DeploymentName == "" {
		return nil, fmt.Errorf("record item missing partition key")
	}
	record.ResourceGroup = getString("ResourceGroup")
	record.TemplateName = getString("TemplateName")
	record.Location = getString("Location")
	record.Project = getString("Project")
	record.Environment = getString("Environment")
	record.Status = interfaces.DeploymentStatus(getString("Status"))
	record.StartTime = getTime("StartTime")
	record.ResourceCount = getInt("ResourceCount")
	record.RetryCount = getInt("RetryCount")
	record.CreatedAt = getTime("CreatedAt")
	record.UpdatedAt = getTime("UpdatedAt")

	if _, ok := item["EndTime"]; ok {
		t := getTime("EndTime")
		record.EndTime = &t
	}
	if v, ok := item["DurationSeconds"].(*types.AttributeValueMemberN); ok {
		if d, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			record.DurationSeconds = &d
		}
	}
	return record, nil
}
