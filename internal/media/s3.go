package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects the bucket attachments go to. Endpoint is set for
// S3-compatible stores (MinIO, R2) and switches to path-style addressing.
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	PublicURL string
}

type objectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores attachments in a bucket.
type S3 struct {
	client objectClient
	cfg    S3Config
}

// NewS3 builds a client from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, cfg: cfg}, nil
}

func (s *S3) Put(ctx context.Context, kind Kind, u Upload) (string, error) {
	key, err := objectKey(kind, u)
	if err != nil {
		return "", err
	}
	if s.cfg.Prefix != "" {
		key = strings.Trim(s.cfg.Prefix, "/") + "/" + key
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        u.Body,
		ContentType: aws.String(u.ContentType),
	}
	if u.Size > 0 {
		in.ContentLength = aws.Int64(u.Size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.url(key), nil
}

func (s *S3) url(key string) string {
	switch {
	case s.cfg.PublicURL != "":
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

// Delete removes the object behind url.
func (s *S3) Delete(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.url(""))
	if !ok || key == "" {
		return fmt.Errorf("media url %q is not in bucket %s", url, s.cfg.Bucket)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
