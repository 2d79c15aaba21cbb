// Package storage writes uploaded logos and generated images to S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zeebo/errs"
)

// Error is the class for storage failures.
var Error = errs.Class("storage")

// ObjectPutter is the part of the S3 client the bucket uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config names the bucket. PublicBaseURL overrides the virtual-hosted S3 URL,
// for example when a CDN fronts the bucket.
type Config struct {
	Region        string
	Bucket        string
	PublicBaseURL string
}

// Bucket stores objects and returns their public URLs.
type Bucket struct {
	client ObjectPutter
	cfg    Config
}

// New wraps an existing client.
func New(client ObjectPutter, cfg Config) *Bucket {
	return &Bucket{client: client, cfg: cfg}
}

// Open builds an S3 client from the default AWS credential chain.
func Open(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, Error.New("bucket and region must be set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, Error.New("load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg), nil
}

// Put uploads data under key and returns the object's public URL.
func (b *Bucket) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", Error.New("put %s: %w", key, err)
	}
	return b.URL(key), nil
}

// URL returns the public URL of key.
func (b *Bucket) URL(key string) string {
	if b.cfg.PublicBaseURL != "" {
		return strings.TrimRight(b.cfg.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, key)
}

// LogoKey is the object key of an uploaded source image.
func LogoKey(userID, imageType, filename string, at time.Time) string {
	return fmt.Sprintf("logos/%s/%s_%d.%s", userID, cleanSegment(imageType, "image"), at.UnixMilli(), extension(filename))
}

// ResultKey is the object key of a generated image.
func ResultKey(userID string, at time.Time) string {
	return fmt.Sprintf("results/%s/generated-%d.png", userID, at.UnixMilli())
}

func extension(filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	return cleanSegment(strings.ToLower(ext), "png")
}

// cleanSegment keeps key segments to [a-zA-Z0-9_-].
func cleanSegment(s, fallback string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return fallback
	}
	return sb.String()
}
