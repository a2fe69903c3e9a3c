// Package s3 stores artifacts on S3 compatible object storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/log"
)

// Client is the subset of the S3 API used by the store.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// StoreConfig is the configuration of the S3 store.
type StoreConfig struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix string
	// Client is used when set, otherwise one is built from the fields below.
	Client Client
	// Endpoint is the S3 compatible endpoint, empty for AWS.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Logger    log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "artifact.S3"})
	return nil
}

// Store is an S3 artifact.Store. References are s3:// URLs.
type Store struct {
	client Client
	bucket string
	prefix string
	logger log.Logger
}

var _ artifact.Store = &Store{}

// NewStore returns a new S3 store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("could not load AWS config: %w", err)
		}

		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: cfg.Logger,
	}, nil
}

func (s *Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	k := s.key(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload artifact: %w", err)
	}

	ref := fmt.Sprintf("s3://%s/%s", s.bucket, k)
	s.logger.Debugf("Stored artifact %s", ref)
	return ref, nil
}

// DeletePrefix implements artifact.Store.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return fmt.Errorf("could not list artifacts: %w", err)
		}

		if len(out.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, o := range out.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: o.Key})
			}
			_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("could not delete artifacts: %w", err)
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}
