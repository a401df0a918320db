package audit

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// putObjectAPI is the part of the S3 client the archive needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Archive implements Archive on AWS S3.
type s3Archive struct {
	client putObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Archive creates an S3-backed archive using the default AWS credential chain.
func NewS3Archive(ctx context.Context, bucket, region, prefix string, logger zerolog.Logger) (Archive, error) {
	logger = logger.With().Str("component", "s3-archive").Logger()

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	logger.Info().
		Str("bucket", bucket).
		Str("region", region).
		Str("prefix", prefix).
		Msg("S3 archive initialised")

	return newS3Archive(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

func newS3Archive(client putObjectAPI, bucket, prefix string, logger zerolog.Logger) *s3Archive {
	return &s3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Store uploads the record under prefix + Key().
func (a *s3Archive) Store(ctx context.Context, rec *Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}

	key := a.prefix + rec.Key()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("bucket", a.bucket).
			Str("key", key).
			Msg("failed to put object to S3")
		return fmt.Errorf("failed to put object to S3 (bucket=%s, key=%s): %w", a.bucket, key, err)
	}

	a.logger.Debug().Str("key", key).Str("outcome", rec.Outcome).Msg("callback archived")
	return nil
}

// fallbackArchive tries S3 first, then the local file system.
type fallbackArchive struct {
	s3Archive   Archive
	fileArchive Archive
	s3Enabled   bool
	logger      zerolog.Logger
}

// NewFallbackArchive creates an archive that writes to S3 when enabled and
// falls back to fileArchive when S3 is disabled, missing or failing.
func NewFallbackArchive(s3Archive, fileArchive Archive, s3Enabled bool, logger zerolog.Logger) Archive {
	return &fallbackArchive{
		s3Archive:   s3Archive,
		fileArchive: fileArchive,
		s3Enabled:   s3Enabled,
		logger:      logger.With().Str("component", "fallback-archive").Logger(),
	}
}

// Store attempts S3 first, then the local file system.
func (a *fallbackArchive) Store(ctx context.Context, rec *Record) error {
	if a.s3Enabled && a.s3Archive != nil {
		err := a.s3Archive.Store(ctx, rec)
		if err == nil {
			return nil
		}
		a.logger.Warn().
			Err(err).
			Str("key", rec.Key()).
			Msg("failed to archive to S3, falling back to local file system")
	}

	return a.fileArchive.Store(ctx, rec)
}
