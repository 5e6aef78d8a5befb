package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxDeleteBatch is the S3 limit on keys per DeleteObjects request.
const maxDeleteBatch = 1000

var (
	tracer = otel.Tracer("github.com/MarcoPoloResearchLab/gurukul/internal/media")

	errMissingBucket = errors.New("media: bucket required")
	errMissingClient = errors.New("media: s3 client required")
)

// ObjectStore is the subset of object storage the media features rely on.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	DeleteWithPrefix(ctx context.Context, prefix string) (int, error)
}

// S3API lists the S3 calls issued by S3Store; *s3.Client satisfies it.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config describes the bucket and credentials of an S3-compatible store.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Store implements ObjectStore on S3 or an S3-compatible service such as MinIO.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Client builds an SDK client from static credentials when both keys are present and from
// the default credential chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// NewS3Store binds an S3 client to a bucket.
func NewS3Store(client S3API, bucket string) (*S3Store, error) {
	if client == nil {
		return nil, errMissingClient
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	return &S3Store{client: client, bucket: bucket}, nil
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", contentType),
			attribute.Int64("content.size", size),
		),
	)
	defer span.End()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	span.SetStatus(codes.Ok, "object uploaded")
	return nil
}

// Delete removes a single object. Deleting a missing key is not an error on S3.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "S3.DeleteObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete object")
		return fmt.Errorf("failed to delete object: %w", err)
	}
	span.SetStatus(codes.Ok, "object deleted")
	return nil
}

// DeleteWithPrefix removes every object whose key starts with prefix and reports how many
// were deleted.
func (s *S3Store) DeleteWithPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := tracer.Start(ctx, "S3.DeleteWithPrefix",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.prefix", prefix),
		),
	)
	defer span.End()

	if strings.TrimSpace(prefix) == "" {
		err := errors.New("media: refusing to delete with an empty prefix")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty prefix")
		return 0, err
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list objects")
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		identifiers := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}
			identifiers = append(identifiers, types.ObjectIdentifier{Key: object.Key})
		}

		for start := 0; start < len(identifiers); start += maxDeleteBatch {
			end := min(start+maxDeleteBatch, len(identifiers))
			count, err := s.deleteBatch(ctx, identifiers[start:end])
			deleted += count
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to delete objects")
				return deleted, err
			}
		}
	}

	span.SetAttributes(attribute.Int("s3.deleted", deleted))
	span.SetStatus(codes.Ok, "prefix deleted")
	return deleted, nil
}

func (s *S3Store) deleteBatch(ctx context.Context, identifiers []types.ObjectIdentifier) (int, error) {
	output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: identifiers,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete objects: %w", err)
	}
	if len(output.Errors) > 0 {
		first := output.Errors[0]
		return len(identifiers) - len(output.Errors), fmt.Errorf("failed to delete %d objects, first %s: %s",
			len(output.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return len(identifiers), nil
}
