// Package media stores project cover images in an S3-compatible bucket.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"ideaforge/api/internal/util"
)

const MaxImageBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("image must be png, jpeg, webp or gif")
	ErrTooLarge        = errors.New("image exceeds 5 MiB")
	ErrEmpty           = errors.New("image is empty")
)

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Upload struct {
	Body        io.Reader
	Size        int64
	ContentType string
}

type Uploader struct {
	client  objectPutter
	bucket  string
	baseURL string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the scheme://endpoint prefix of returned object URLs.
	PublicURL string
}

// NewMinio connects to the object store and creates the bucket if missing.
func NewMinio(ctx context.Context, opts Options) (*Uploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	baseURL := strings.TrimRight(opts.PublicURL, "/")
	if baseURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		baseURL = scheme + "://" + opts.Endpoint
	}
	return &Uploader{client: client, bucket: opts.Bucket, baseURL: baseURL}, nil
}

// PutProjectImage stores the image under projects/<id>/ and returns its public URL.
func (u *Uploader) PutProjectImage(ctx context.Context, projectID string, upload Upload) (string, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(upload.ContentType, ";")[0]))
	ext, ok := extensions[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	if upload.Size == 0 {
		return "", ErrEmpty
	}
	if upload.Size > MaxImageBytes {
		return "", ErrTooLarge
	}

	object := fmt.Sprintf("projects/%s/%s.%s", projectID, util.NewID(""), ext)
	if _, err := u.client.PutObject(ctx, u.bucket, object, io.LimitReader(upload.Body, MaxImageBytes+1), upload.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", object, err)
	}
	return u.baseURL + "/" + u.bucket + "/" + object, nil
}
