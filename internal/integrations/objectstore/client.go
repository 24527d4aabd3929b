// Package objectstore uploads attachments to per-category S3 buckets and
// derives their public URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"workflow-chat/internal/domain"
)

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client wraps S3 for attachment storage. Images and documents go to separate
// buckets.
type Client struct {
	api            s3API
	region         string
	imageBucket    string
	documentBucket string
	publicBaseURL  string
}

type Option func(*Client)

// WithPublicBaseURL serves public URLs from a CDN or proxy host instead of
// the bucket's virtual-hosted S3 address.
func WithPublicBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.publicBaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// New creates an objectstore Client.
func New(api s3API, region, imageBucket, documentBucket string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("objectstore: api must not be nil")
	}
	if strings.TrimSpace(imageBucket) == "" || strings.TrimSpace(documentBucket) == "" {
		return nil, errors.New("objectstore: bucket names must not be empty")
	}
	c := &Client{
		api:            api,
		region:         region,
		imageBucket:    imageBucket,
		documentBucket: documentBucket,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bucket returns the bucket backing the given attachment category.
func (c *Client) Bucket(cat domain.AttachmentCategory) string {
	if cat == domain.CategoryImage {
		return c.imageBucket
	}
	return c.documentBucket
}

// Upload streams r to bucket/key. onProgress, when non-nil, receives
// fractional progress from 0 to 100 driven by bytes read out of r.
func (c *Client) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, onProgress func(float64)) error {
	if bucket == "" || key == "" {
		return errors.New("objectstore: bucket and key are required")
	}

	body := r
	if onProgress != nil && size > 0 {
		body = &progressReader{r: r, total: size, onProgress: onProgress}
	}

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PublicURL derives the public address of an uploaded object. Returns an
// empty string when it cannot be resolved.
func (c *Client) PublicURL(bucket, key string) string {
	if bucket == "" || key == "" {
		return ""
	}
	if c.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", c.publicBaseURL, bucket, key)
	}
	if c.region == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, key)
}

// progressReader reports cumulative read progress as a 0-100 percentage.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.onProgress(float64(p.read) / float64(p.total) * 100)
	}
	return n, err
}
