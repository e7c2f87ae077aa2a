// Package blob is the content-addressed object storage gateway used for
// bulk-import files, robot enhancement batches, and import/export reports.
// Keys are derived from the SHA-256 of their content, so re-uploading
// identical bytes is a no-op and a key alone is enough to verify integrity.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/destiny/pkg/config"
)

// Gateway wraps an S3 client with content-addressed keys and a circuit
// breaker, since every ingestion and orchestrator call path depends on it
// being reachable.
type Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	cfg       *config.BlobConfig
	breaker   *gobreaker.CircuitBreaker
}

// NewGateway builds a Gateway from the process AWS config plus blob-specific
// overrides (bucket, endpoint, key prefix, presign TTLs).
func NewGateway(ctx context.Context, cfg *config.BlobConfig) (*Gateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blob-gateway",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  manager.NewUploader(client),
		cfg:       cfg,
		breaker:   breaker,
	}, nil
}

// ContentKey derives the object key for data under the configured prefix:
// "{prefix}/{sha256 hex}". Two uploads of identical content always produce
// the same key.
func (g *Gateway) ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/%s", g.cfg.KeyPrefix, hex.EncodeToString(sum[:]))
}

// Put uploads data under its content key and returns the key.
func (g *Gateway) Put(ctx context.Context, data []byte) (string, error) {
	key := g.ContentKey(data)
	_, err := g.breaker.Execute(func() (any, error) {
		return g.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(g.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}
	return key, nil
}

// Get reads the full contents of key.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		return g.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(g.cfg.Bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	obj := out.(*s3.GetObjectOutput)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// PresignUpload returns a pre-signed PUT URL a robot can write its result
// to, valid for cfg.UploadURLTTL.
func (g *Gateway) PresignUpload(ctx context.Context, key string) (string, error) {
	req, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(g.cfg.UploadURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignDownload returns a pre-signed GET URL a robot can read its input
// batch from, valid for cfg.DownloadURLTTL.
func (g *Gateway) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(g.cfg.DownloadURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", key, err)
	}
	return req.URL, nil
}
