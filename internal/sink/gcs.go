package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ParseGCSPath extracts bucket and object from a "gs://bucket/path" URI.
func ParseGCSPath(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in GCS path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in GCS path %q", path)
	}
	return bucket, key, nil
}

// gcsWriter streams straight into a resumable upload; cancelling its
// context before Close discards the object.
type gcsWriter struct {
	location string
	client   *storage.Client
	w        *storage.Writer
	cancel   context.CancelFunc
}

func newGCSWriter(ctx context.Context, bucket, key string, opts GCSOptions) (Writer, error) {
	var clientOpts []option.ClientOption
	if opts.KeyFile != "" {
		clientOpts = append(clientOpts, option.WithAuthCredentialsFile(option.ServiceAccount, opts.KeyFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	w := client.Bucket(bucket).Object(key).NewWriter(uploadCtx)
	w.ContentType = "application/octet-stream"

	return &gcsWriter{
		location: fmt.Sprintf("gs://%s/%s", bucket, key),
		client:   client,
		w:        w,
		cancel:   cancel,
	}, nil
}

func (g *gcsWriter) Write(p []byte) (int, error) {
	return g.w.Write(p)
}

func (g *gcsWriter) Commit(_ context.Context) error {
	defer g.cancel()
	defer g.client.Close() //nolint:errcheck
	if err := g.w.Close(); err != nil {
		return fmt.Errorf("upload to %s: %w", g.location, err)
	}
	return nil
}

func (g *gcsWriter) Abort() error {
	g.cancel()
	_ = g.w.Close()
	return g.client.Close()
}

func (g *gcsWriter) Location() string { return g.location }
