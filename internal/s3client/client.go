// Package s3client stores walk failure artifacts in an S3-compatible bucket.
// Any endpoint speaking the S3 API works; tests use gofakes3.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("s3client: object not found")

// Client writes objects under a key prefix of one bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	prefix     string
}

// Config holds the configuration for creating an S3 client.
type Config struct {
	// Endpoint overrides the S3 endpoint (AWS_ENDPOINT_URL_S3). Empty means AWS.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// Prefix is prepended to every key, e.g. "coursewalk/".
	Prefix string
	// UsePathStyle is needed by most non-AWS endpoints and by gofakes3.
	UsePathStyle bool
}

// New creates a new S3 client with the given configuration.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("s3client: bucket name is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})
	return NewFromS3Client(s3Client, cfg.BucketName, cfg.Prefix), nil
}

// NewFromS3Client wraps an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, prefix string) *Client {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Client{s3Client: s3Client, bucketName: bucketName, prefix: prefix}
}

func (c *Client) key(name string) string {
	return c.prefix + strings.TrimPrefix(name, "/")
}

// PutObject stores content under name with the given content type.
func (c *Client) PutObject(ctx context.Context, name string, content []byte, contentType string) error {
	key := c.key(name)
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return fmt.Errorf("s3client: failed to put object %q: %w", key, err)
	}
	return nil
}

// GetObject retrieves the content stored under name.
// Returns ErrObjectNotFound if it does not exist.
func (c *Client) GetObject(ctx context.Context, name string) ([]byte, error) {
	key := c.key(name)
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3client: failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3client: failed to read object body %q: %w", key, err)
	}
	return data, nil
}

// List returns the names (without the client prefix) of objects under dir.
func (c *Client) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(c.key(dir)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3client: failed to list %q: %w", dir, err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), c.prefix))
		}
	}
	return names, nil
}

// URI returns the s3:// address of name, for logs and reports.
func (c *Client) URI(name string) string {
	return "s3://" + c.bucketName + "/" + c.key(name)
}

// BucketName returns the configured bucket name.
func (c *Client) BucketName() string {
	return c.bucketName
}
