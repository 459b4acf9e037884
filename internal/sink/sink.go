// Package sink provides destinations for downloaded query results: local
// files and S3, GCS or Azure Blob objects.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Writer receives a result payload. Nothing is visible at the destination
// until Commit succeeds; Abort discards everything written so far.
type Writer interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort() error
	Location() string
}

// S3Options configures the S3 (or S3-compatible) destination.
type S3Options struct {
	KeyID        string
	Secret       string
	Endpoint     string // host or URL; empty uses AWS
	Region       string
	UsePathStyle bool
}

// GCSOptions configures the Google Cloud Storage destination.
type GCSOptions struct {
	KeyFile  string // service account JSON; empty uses application default credentials
	Endpoint string
}

// AzureOptions configures the Azure Blob Storage destination.
type AzureOptions struct {
	AccountName string
	AccountKey  string
	ServiceURL  string // defaults to https://<account>.blob.core.windows.net
}

// Options carries credentials for every destination kind.
type Options struct {
	S3      S3Options
	GCS     GCSOptions
	Azure   AzureOptions
	TempDir string // staging directory for object uploads
}

// Open returns a Writer for dest. Plain paths and file:// URLs are local
// files; s3://, gs://, az:// and abfss:// select object storage.
// file:///abs/path is absolute and file://rel/path is relative to the
// working directory.
func Open(ctx context.Context, dest string, opts Options) (Writer, error) {
	if dest == "" {
		return nil, fmt.Errorf("destination is required")
	}
	scheme := ""
	if i := strings.Index(dest, "://"); i > 0 {
		scheme = strings.ToLower(dest[:i])
	}

	switch scheme {
	case "":
		return newFileWriter(dest)
	case "file":
		u, err := url.Parse(dest)
		if err != nil {
			return nil, fmt.Errorf("parse file destination %q: %w", dest, err)
		}
		return newFileWriter(filePath(u))
	case "s3":
		bucket, key, err := ParseS3Path(dest)
		if err != nil {
			return nil, err
		}
		return newS3Writer(bucket, key, opts)
	case "gs":
		bucket, key, err := ParseGCSPath(dest)
		if err != nil {
			return nil, err
		}
		return newGCSWriter(ctx, bucket, key, opts.GCS)
	case "az", "abfss":
		container, blob, err := ParseAzurePath(dest)
		if err != nil {
			return nil, err
		}
		return newAzureWriter(container, blob, opts)
	default:
		return nil, fmt.Errorf("unsupported destination scheme %q in %q", scheme, dest)
	}
}

// filePath maps a file:// URL to a local path. A host other than
// localhost is read as the first element of a relative path.
func filePath(u *url.URL) string {
	if u.Host == "" || u.Host == "localhost" {
		return u.Path
	}
	return u.Host + u.Path
}
