// Package storage wraps the S3-compatible object stores the pipeline talks
// to: Supabase Storage on the source side and Cloudflare R2 on the
// destination side. Both speak the same API through one client type; only
// endpoint and credentials differ.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/focusmusic/hls-pipeline/retry"
)

const (
	maxAttempts = 3
	baseBackoff = 2 * time.Second
)

// s3API is the slice of the S3 surface the pipeline uses. Tests provide a
// fake; production code wraps an *s3.Client.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Options configures a Client against one S3-compatible endpoint.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Client is an object store handle bound to a single bucket. Every call
// carries the package retry policy: up to 3 attempts with linear backoff,
// except NotFound which surfaces immediately.
type Client struct {
	api     s3API
	bucket  string
	backoff retry.Backoff
}

// New dials an S3-compatible endpoint with static credentials.
func New(ctx context.Context, opts Options) (*Client, error) {
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading storage client config")
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})
	return &Client{api: api, bucket: opts.Bucket}, nil
}

// NewWithAPI builds a Client over an existing API implementation. Used by
// tests and by callers that share one dialled client across buckets.
func NewWithAPI(api s3API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// Bucket returns the bucket this client is bound to.
func (c *Client) Bucket() string { return c.bucket }

func (c *Client) policy() retry.Policy {
	backoff := c.backoff
	if backoff == nil {
		backoff = retry.Linear(baseBackoff)
	}
	return retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Retryable:   func(err error) bool { return !IsNotFound(err) },
	}
}

// Download fetches an object in full. A missing key returns a
// *NotFoundError without retrying; any other error is retried.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.policy(), func() error {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isMissingObject(err) {
				return &NotFoundError{Bucket: c.bucket, Key: key}
			}
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "downloading %s/%s", c.bucket, key)
	}
	return body, nil
}

// Upload writes an object, overwriting any previous content under the same
// key. Overwrite-on-rerun is what makes the whole pipeline safe to re-run
// after a partial failure.
func (c *Client) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	err := retry.Do(ctx, c.policy(), func() error {
		_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
		return err
	})
	return pkgerrors.Wrapf(err, "uploading %s/%s", c.bucket, key)
}

// List returns every key under prefix, following continuation tokens until
// the listing is complete.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		var out *s3.ListObjectsV2Output
		err := retry.Do(ctx, c.policy(), func() error {
			var err error
			out, err = c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(c.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			return err
		})
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "listing %s/%s", c.bucket, prefix)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// EnsureBucket verifies the bucket exists, creating it when it does not.
// Called once before workers start so a misconfigured destination fails the
// run up front instead of after hours of transcoding.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}

	_, err = c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return pkgerrors.Wrapf(err, "creating bucket %s", c.bucket)
	}
	return nil
}
