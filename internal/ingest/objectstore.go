package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectResolver turns an object-store source reference (s3://bucket/key)
// into document content. Inline-text sources never reach a resolver.
type ObjectResolver interface {
	Resolve(ctx context.Context, source string) (string, error)
}

// S3Resolver fetches document content from S3 (or any S3-compatible store
// when an endpoint override is set).
type S3Resolver struct {
	client *s3.Client
}

// NewS3Resolver builds a resolver from the ambient AWS config. Static
// credentials, when provided, take precedence over the default chain; an
// endpoint override points the client at a MinIO-style compatible store.
func NewS3Resolver(ctx context.Context, region, accessKey, secretKey, endpoint string) (*S3Resolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Resolver{client: client}, nil
}

// Resolve downloads s3://bucket/key and returns its body as text.
func (r *S3Resolver) Resolve(ctx context.Context, source string) (string, error) {
	bucket, key, err := splitS3URI(source)
	if err != nil {
		return "", err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("ingest: get s3 object %s: %w", source, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("ingest: read s3 object %s: %w", source, err)
	}
	return string(data), nil
}

func splitS3URI(source string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(source, "s3://")
	if !ok {
		return "", "", fmt.Errorf("ingest: not an s3 source: %s", source)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("ingest: malformed s3 source: %s", source)
	}
	return bucket, key, nil
}
