package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"architect-studio/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const MAX_FETCH_BYTES = 100 << 20

var ErrBlobTooLarge = errors.New("remote object exceeds size limit")

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore keeps uploaded and generated assets in an S3-compatible bucket
// served from a public base URL.
type BlobStore struct {
	objects    objectAPI
	bucket     string
	publicBase string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBlobStore connects to the bucket described by cfg
func NewBlobStore(ctx context.Context, cfg *common.Config) (*BlobStore, error) {
	if !cfg.BlobEnabled() {
		return nil, fmt.Errorf("blob storage is not configured")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.BlobRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.BlobAccessKeyID,
			cfg.BlobSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.BlobEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BlobEndpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := cfg.BlobPublicBaseURL
	if publicBase == "" {
		endpoint := cfg.BlobEndpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.BlobRegion)
		}
		publicBase = strings.TrimRight(endpoint, "/") + "/" + cfg.BlobBucket
	}

	slog.Info("Blob store initialized", "bucket", cfg.BlobBucket, "public_base", publicBase)
	return newBlobStore(client, cfg.BlobBucket, publicBase, &http.Client{Timeout: 60 * time.Second}), nil
}

func newBlobStore(objects objectAPI, bucket, publicBase string, httpClient *http.Client) *BlobStore {
	return &BlobStore{
		objects:    objects,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		httpClient: httpClient,
		logger:     slog.With("service", "BlobStore"),
	}
}

// Put stores data under key and returns its public URL
func (b *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := b.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	b.logger.Debug("Object stored", "key", key, "size", len(data))
	return b.URL(key), nil
}

// URL returns the public URL of key
func (b *BlobStore) URL(key string) string {
	return b.publicBase + "/" + key
}

// Fetch downloads an asset by URL. Objects in our own bucket are read through
// the S3 API; anything else is fetched over HTTP.
func (b *BlobStore) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if key, ok := b.keyFor(url); ok {
		out, err := b.objects.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
		}
		defer out.Body.Close()

		data, err := readLimited(out.Body)
		if err != nil {
			return nil, "", err
		}
		return data, aws.ToString(out.ContentType), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Mirror copies a remote asset (a provider's temporary download link) into
// the bucket and returns the permanent URL.
func (b *BlobStore) Mirror(ctx context.Context, url, key string) (string, error) {
	data, contentType, err := b.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(key)
	}
	return b.Put(ctx, key, data, contentType)
}

// Delete removes an object by its public URL. URLs outside the bucket are ignored.
func (b *BlobStore) Delete(ctx context.Context, url string) error {
	key, ok := b.keyFor(url)
	if !ok {
		return nil
	}
	_, err := b.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *BlobStore) keyFor(url string) (string, bool) {
	prefix := b.publicBase + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	return key, key != ""
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MAX_FETCH_BYTES+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > MAX_FETCH_BYTES {
		return nil, ErrBlobTooLarge
	}
	return data, nil
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".glb":
		return "model/gltf-binary"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// AssetKey builds an object key under a per-owner folder
func AssetKey(kind, ownerID, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", kind, ownerID, common.RandomID(), ext)
}
