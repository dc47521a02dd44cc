package distribute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"kiosk/internal/config"
	"kiosk/internal/faults"
)

// Fetcher streams the object behind a URI into a local staging file. The
// progress callback, when non-nil, receives the cumulative byte count as the
// transfer advances.
type Fetcher interface {
	Fetch(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error
}

// HTTPFetcher retrieves http and https URIs. Timeouts come from the attempt
// context, not the client, so one fetcher serves every task.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return faults.Wrap(faults.ErrProtocol, "distribute", "fetch", "build request for "+uri.Redacted(), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", uri.Redacted(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return faults.Wrap(faults.ErrCorruptPayload, "distribute", "fetch", fmt.Sprintf("origin refused %s (status %d)", uri.Redacted(), resp.StatusCode), nil)
	default:
		return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", fmt.Sprintf("origin returned status %d for %s", resp.StatusCode, uri.Redacted()), nil)
	}

	written, err := writeStream(dest, resp.Body, progress)
	if err != nil {
		return err
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", fmt.Sprintf("short read: %d of %d bytes", written, resp.ContentLength), nil)
	}
	return nil
}

// S3Fetcher retrieves s3://bucket/key URIs through object storage. The
// client is built lazily from the configured region, endpoint, and static
// credentials, falling back to the standard AWS environment chain for
// anything left empty. A custom endpoint switches to path-style addressing
// so self-hosted stores work unchanged.
type S3Fetcher struct {
	cfg config.S3

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Fetcher(cfg config.S3) *S3Fetcher {
	return &S3Fetcher{cfg: cfg}
}

func (f *S3Fetcher) Fetch(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
	bucket := uri.Host
	key := strings.TrimPrefix(uri.Path, "/")
	if bucket == "" || key == "" {
		return faults.Wrap(faults.ErrProtocol, "distribute", "fetch", "s3 uri needs bucket and key: "+uri.String(), nil)
	}

	client, err := f.load(ctx)
	if err != nil {
		return err
	}

	object, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return faults.Wrap(faults.ErrCorruptPayload, "distribute", "fetch", fmt.Sprintf("object s3://%s/%s does not exist", bucket, key), err)
		}
		return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", fmt.Sprintf("get s3://%s/%s", bucket, key), err)
	}
	defer object.Body.Close()

	written, err := writeStream(dest, object.Body, progress)
	if err != nil {
		return err
	}
	if object.ContentLength != nil && *object.ContentLength > 0 && written != *object.ContentLength {
		return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", fmt.Sprintf("short read: %d of %d bytes", written, *object.ContentLength), nil)
	}
	return nil
}

func (f *S3Fetcher) load(ctx context.Context) (*s3.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(f.cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if f.cfg.AccessKeyID != "" && f.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(f.cfg.AccessKeyID, f.cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConfig, "distribute", "fetch", "load aws configuration", err)
	}

	f.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(f.cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return f.client, nil
}

func writeStream(dest string, r io.Reader, progress func(int64)) (int64, error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open staging file: %w", err)
	}

	counter := &countingWriter{w: out, progress: progress}
	written, err := io.Copy(counter, r)
	if err != nil {
		out.Close()
		return written, faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", "stream interrupted", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return written, fmt.Errorf("sync staging file: %w", err)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close staging file: %w", err)
	}
	return written, nil
}

type countingWriter struct {
	w        io.Writer
	n        int64
	progress func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.progress != nil {
		c.progress(c.n)
	}
	return n, err
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*S3Fetcher)(nil)
)
