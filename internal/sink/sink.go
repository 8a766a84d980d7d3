// Package sink stores exported query results on local disk or in S3.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sciserver-casjobs/internal/config"
)

// Sink writes an exported result under key and returns where it landed.
type Sink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Local writes files below BaseDir.
type Local struct {
	BaseDir string
}

func (l *Local) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.BaseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// S3 puts objects into one bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds an S3 sink for bucket. Static keys from cfg are used when set,
// otherwise the default AWS credential chain.
func NewS3(ctx context.Context, cfg config.Config, bucket string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: bucket}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	customize := func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	}
	if cfg.S3KeyID != "" {
		return s3.New(s3.Options{
			Region:      cfg.S3Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, ""),
		}, customize), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, customize), nil
}

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Open resolves dest to a sink and the key to write under. s3://bucket/key
// selects S3; anything else is a local file path.
func Open(ctx context.Context, cfg config.Config, dest string) (Sink, string, error) {
	if strings.HasPrefix(dest, "s3://") {
		bucket, key, err := parseS3Path(dest)
		if err != nil {
			return nil, "", err
		}
		s, err := NewS3(ctx, cfg, bucket)
		if err != nil {
			return nil, "", err
		}
		return s, key, nil
	}
	if dest == "" {
		return nil, "", errors.New("destination is required")
	}
	return &Local{BaseDir: filepath.Dir(dest)}, filepath.Base(dest), nil
}

// ContentType guesses the MIME type of an export from its key.
func ContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".fits", ".fit", ".fts":
		return "application/fits"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func parseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 path %q needs a bucket and a key", s3Path)
	}
	return bucket, key, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
