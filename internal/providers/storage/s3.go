// Package storage archives rendered documents in object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrArchiveDisabled = errors.New("receipt_archive_disabled")

// Archive stores a rendered receipt and returns its object key.
type Archive interface {
	PutReceipt(ctx context.Context, orgID snowflake.ID, receiptNumber string, pdf []byte) (string, error)
}

// ObjectAPI is the subset of the S3 client used by S3Archive.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archive struct {
	client ObjectAPI
	bucket string
}

func NewS3Archive(client ObjectAPI, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: strings.TrimSpace(bucket)}
}

// ReceiptKey is receipts/<org>/<receipt_number>.pdf.
func ReceiptKey(orgID snowflake.ID, receiptNumber string) string {
	return fmt.Sprintf("receipts/%s/%s.pdf", orgID.String(), strings.TrimSpace(receiptNumber))
}

func (a *S3Archive) PutReceipt(ctx context.Context, orgID snowflake.ID, receiptNumber string, pdf []byte) (string, error) {
	if a == nil || a.bucket == "" {
		return "", ErrArchiveDisabled
	}
	key := ReceiptKey(orgID, receiptNumber)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pdf),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("put receipt %s: %w", key, err)
	}
	return key, nil
}

var Module = fx.Module("providers.storage",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a nil Archive when RECEIPT_ARCHIVE_BUCKET is unset.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Archive, error) {
	bucket := strings.TrimSpace(cfg.Receipt.ArchiveBucket)
	if bucket == "" {
		log.Named("storage").Info("receipt archive disabled")
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Receipt.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Named("storage").Info("receipt archive enabled", zap.String("bucket", bucket))
	return NewS3Archive(s3.NewFromConfig(awsCfg), bucket), nil
}
