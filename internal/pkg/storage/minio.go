package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options for minio filer
type Options struct {
	URL    string
	User   string
	Key    string
	Bucket string
	Secure bool
	// Expiry of presigned URLs
	Expiry time.Duration
}

// Filer keeps uploaded audio in minio bucket
type Filer struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

const defaultExpiry = 6 * time.Hour

// NewFiler creates minio filer, creates the bucket if it is missing
func NewFiler(ctx context.Context, opts Options) (*Filer, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}
	client, err := minio.New(opts.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.User, opts.Key, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("can't init minio client: %w", err)
	}
	res := &Filer{client: client, bucket: opts.Bucket, expiry: opts.Expiry}
	if err := res.ensureBucket(ctx); err != nil {
		return nil, err
	}
	goapp.Log.Info().Str("url", opts.URL).Str("bucket", opts.Bucket).Dur("expiry", opts.Expiry).Msg("minio filer")
	return res, nil
}

// SaveFile stores the file
func (f *Filer) SaveFile(ctx context.Context, name string, r io.Reader, size int64) error {
	info, err := f.client.PutObject(ctx, f.bucket, name, r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("can't save %s: %w", name, err)
	}
	goapp.Log.Info().Str("file", name).Int64("size", info.Size).Msg("saved")
	return nil
}

// PresignURL returns URL the transcription provider can download the file from
func (f *Filer) PresignURL(ctx context.Context, name string) (string, error) {
	res, err := f.client.PresignedGetObject(ctx, f.bucket, name, f.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("can't presign %s: %w", name, err)
	}
	return res.String(), nil
}

func (f *Filer) ensureBucket(ctx context.Context) error {
	ok, err := f.client.BucketExists(ctx, f.bucket)
	if err != nil {
		return fmt.Errorf("can't check bucket %s: %w", f.bucket, err)
	}
	if ok {
		return nil
	}
	goapp.Log.Info().Str("bucket", f.bucket).Msg("creating bucket")
	if err := f.client.MakeBucket(ctx, f.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("can't create bucket %s: %w", f.bucket, err)
	}
	return nil
}

func validate(opts *Options) error {
	opts.URL = strings.TrimPrefix(strings.TrimPrefix(opts.URL, "http://"), "https://")
	if opts.URL == "" {
		return fmt.Errorf("no URL")
	}
	if opts.Bucket == "" {
		return fmt.Errorf("no bucket")
	}
	if opts.User == "" || opts.Key == "" {
		return fmt.Errorf("no credentials")
	}
	if opts.Expiry == 0 {
		opts.Expiry = defaultExpiry
	}
	if opts.Expiry < time.Second || opts.Expiry > 7*24*time.Hour {
		return fmt.Errorf("wrong expiry %v", opts.Expiry)
	}
	return nil
}
