package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects the bucket final artifacts are published to.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint points at an S3-compatible service (MinIO, R2). Path-style
	// addressing is used when set.
	Endpoint string
	// KeyPrefix is prepended to every object key.
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Publisher uploads final artifacts to an S3 bucket.
type S3Publisher struct {
	client *s3.Client
	cfg    S3Config
}

var _ Publisher = (*S3Publisher)(nil)

// NewS3Publisher builds the S3 client. Static credentials are used only when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: S3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Publisher{client: client, cfg: cfg}, nil
}

// Publish uploads the file at localPath under key and returns the object URL.
func (p *S3Publisher) Publish(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is a layout-owned artifact
	if err != nil {
		return "", fmt.Errorf("storage: open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("storage: stat artifact: %w", err)
	}

	objectKey := p.objectKey(key)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(objectKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", objectKey, err)
	}
	return p.objectURL(objectKey), nil
}

func (p *S3Publisher) objectKey(key string) string {
	if p.cfg.KeyPrefix == "" {
		return key
	}
	return path.Join(p.cfg.KeyPrefix, key)
}

func (p *S3Publisher) objectURL(key string) string {
	if p.cfg.Endpoint != "" {
		u, err := url.JoinPath(strings.TrimRight(p.cfg.Endpoint, "/"), p.cfg.Bucket, key)
		if err == nil {
			return u
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
}
