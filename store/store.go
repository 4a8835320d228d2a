package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	appconfig "divflow/config"
	"divflow/logger"
	"divflow/models"
)

// DynamoAPI is the slice of the DynamoDB client the table depends on.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Table is the announcements table, keyed (symbol, ex_dividend_date). Range
// queries run as filtered scans; announcement volume per sync window is
// small enough that a sorted secondary index is not worth carrying.
type Table struct {
	client DynamoAPI
	name   string
	log    *logger.Log
}

// New creates a Table backed by DynamoDB. Credentials and endpoint follow
// the configuration, falling back to the default AWS provider chain.
func New(cfg *appconfig.Config) (*Table, error) {
	log := logger.GetLogger()
	ctx := context.Background()
	db := cfg.Storage.DynamoDB

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if db.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(db.Region))
	}
	if db.AccessKeyID != "" && db.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(db.AccessKeyID, db.SecretAccessKey, ""),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("store").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	clientOpts := []func(*dynamodb.Options){}
	if db.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(db.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsConfig, clientOpts...)

	log.WithComponent("store").WithFields(logger.Fields{
		"table":  db.Table,
		"region": db.Region,
	}).Info("store initialized")

	return NewWithClient(client, db.Table), nil
}

// NewWithClient creates a Table over an existing client. Tests use this with
// a fake DynamoAPI.
func NewWithClient(client DynamoAPI, table string) *Table {
	return &Table{
		client: client,
		name:   table,
		log:    logger.GetLogger(),
	}
}

// Upsert writes the announcement, overwriting any existing record with the
// same (symbol, ex_dividend_date) key. The operation is not retried here;
// the caller decides what a failed write means for the run.
func (t *Table) Upsert(ctx context.Context, a models.Announcement) error {
	log := t.log.WithComponent("store")
	exDate := models.FormatDate(a.ExDividendDate)

	log.WithFields(logger.Fields{
		"symbol":           a.Symbol,
		"ex_dividend_date": exDate,
		"cash_amount":      a.CashAmount.String(),
	}).Debug("writing announcement")

	_, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      a.ToItem(),
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"symbol":           a.Symbol,
			"ex_dividend_date": exDate,
			"table":            t.name,
			"error_code":       awsErrorCode(err),
		}).Error("failed to upsert announcement")
		return fmt.Errorf("upsert announcement %s/%s: %w", a.Symbol, exDate, err)
	}
	return nil
}

// ScanRange returns every announcement whose ex_dividend_date falls within
// [start, end] inclusive, following continuation keys until the scan is
// exhausted. Ordering of the result is unspecified.
func (t *Table) ScanRange(ctx context.Context, start, end time.Time) ([]models.Announcement, error) {
	items, err := t.scanRaw(ctx, start, end)
	if err != nil {
		return nil, err
	}

	announcements := make([]models.Announcement, 0, len(items))
	for _, item := range items {
		a, err := models.AnnouncementFromItem(item)
		if err != nil {
			return nil, fmt.Errorf("decode stored announcement: %w", err)
		}
		announcements = append(announcements, a)
	}
	return announcements, nil
}

// Watermark returns the latest ex_dividend_date among records in
// [start, end], or start itself when the window holds no records. This is
// the resume point for the next sync.
func (t *Table) Watermark(ctx context.Context, start, end time.Time) (time.Time, error) {
	items, err := t.scanRaw(ctx, start, end)
	if err != nil {
		return time.Time{}, err
	}
	if len(items) == 0 {
		return start, nil
	}

	var latest decimal.Decimal
	found := false
	for _, item := range items {
		av, ok := item[models.AttrExDividendDate].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(av.Value)
		if err != nil {
			continue
		}
		if !found || d.GreaterThan(latest) {
			latest = d
			found = true
		}
	}
	if !found {
		return start, nil
	}
	return models.EpochToDate(latest), nil
}

func (t *Table) scanRaw(ctx context.Context, start, end time.Time) ([]map[string]types.AttributeValue, error) {
	log := t.log.WithComponent("store")

	input := &dynamodb.ScanInput{
		TableName:        aws.String(t.name),
		FilterExpression: aws.String("#d BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#d": models.AttrExDividendDate,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":start": &types.AttributeValueMemberN{Value: strconv.FormatInt(start.Unix(), 10)},
			":end":   &types.AttributeValueMemberN{Value: strconv.FormatInt(end.Unix(), 10)},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"table":      t.name,
				"start":      models.FormatDate(start),
				"end":        models.FormatDate(end),
				"error_code": awsErrorCode(err),
			}).Error("failed to scan announcements")
			return nil, fmt.Errorf("scan announcements: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func awsErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
