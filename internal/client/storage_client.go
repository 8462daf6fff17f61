package client

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/beacon/pipeline/internal/config"
)

const screenshotPrefix = "screenshots/"

// StorageClient stores scan artifacts in S3-compatible object storage
// (Cloudflare R2 by default).
type StorageClient struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	publicURL  string
}

// NewStorageClient creates a new storage client. An explicit endpoint wins
// over the R2 endpoint derived from the account id.
func NewStorageClient(ctx context.Context, cfg config.StorageConfig) (*StorageClient, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.Endpoint != ""
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = strings.TrimRight(endpoint, "/") + "/" + cfg.BucketName
	}

	return &StorageClient{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		bucketName: cfg.BucketName,
		publicURL:  strings.TrimRight(publicURL, "/"),
	}, nil
}

// UploadFile uploads a local screenshot and returns its public URL. The local
// file is removed once the upload succeeds.
func (c *StorageClient) UploadFile(ctx context.Context, localPath, fileName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	if fileName == "" {
		fileName = filepath.Base(localPath)
	}
	key := screenshotPrefix + fileName

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	f.Close()
	_ = os.Remove(localPath)

	return c.PublicURL(key), nil
}

// DeleteFiles removes previously uploaded objects by public URL. Every URL is
// attempted; the errors are joined.
func (c *StorageClient) DeleteFiles(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		key, ok := c.KeyFromURL(u)
		if !ok {
			errs = append(errs, fmt.Errorf("not a storage URL: %s", u))
			continue
		}
		_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// GetSignedURL generates a presigned URL for temporary access
func (c *StorageClient) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presignedReq, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedReq.URL, nil
}

// PublicURL returns the public URL for a key
func (c *StorageClient) PublicURL(key string) string {
	return c.publicURL + "/" + key
}

// KeyFromURL reverses PublicURL.
func (c *StorageClient) KeyFromURL(u string) (string, bool) {
	key, ok := strings.CutPrefix(u, c.publicURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// ScreenshotKey maps a screenshot path from the API to its object key.
func ScreenshotKey(name string) (string, bool) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "..") {
		return "", false
	}
	return screenshotPrefix + name, true
}
