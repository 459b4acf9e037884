package sink

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in S3 path %q", s3Path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in S3 path %q", s3Path)
	}
	return bucket, key, nil
}

// newS3Client builds a client with static credentials. A custom endpoint
// selects an S3-compatible store.
func newS3Client(opts S3Options) (*s3.Client, error) {
	if opts.KeyID == "" || opts.Secret == "" {
		return nil, fmt.Errorf("S3 credentials are incomplete: S3_KEY_ID and S3_SECRET are required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	s3Opts := s3.Options{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			opts.KeyID, opts.Secret, "",
		),
		UsePathStyle:               opts.UsePathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		s3Opts.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(s3Opts), nil
}

func newS3Writer(bucket, key string, opts Options) (Writer, error) {
	client, err := newS3Client(opts.S3)
	if err != nil {
		return nil, err
	}
	location := fmt.Sprintf("s3://%s/%s", bucket, key)
	return newStagedWriter(location, opts.TempDir, func(ctx context.Context, f *os.File) error {
		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat staging file: %w", err)
		}
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(fi.Size()),
			ContentType:   aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("put object %q/%q: %w", bucket, key, err)
		}
		return nil
	})
}
