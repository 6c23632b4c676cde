// Package artifact publishes trained model files to a bucket-style store
// and fetches them back for serving.
package artifact

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/internal/config"
)

// Provider is a bucket/key object store.
type Provider interface {
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Client scopes a Provider to one bucket and key prefix.
type Client struct {
	backend Provider
	bucket  string
	prefix  string
}

// NewClient wraps backend.
func NewClient(backend Provider, bucket, prefix string) *Client {
	return &Client{backend: backend, bucket: bucket, prefix: prefix}
}

// New builds the client selected by cfg.Provider ("local" or "s3").
func New(cfg config.Storage) (*Client, error) {
	switch cfg.Provider {
	case "local":
		return NewClient(NewLocalProvider(cfg.LocalRoot), cfg.Bucket, cfg.Prefix), nil
	case "s3":
		awsCfg := &aws.Config{
			Region:           aws.String(cfg.Region),
			S3ForcePathStyle: aws.Bool(cfg.Endpoint != ""),
		}
		if cfg.Endpoint != "" {
			awsCfg.Endpoint = aws.String(cfg.Endpoint)
		}
		if cfg.KeyID != "" {
			awsCfg.Credentials = credentials.NewStaticCredentials(cfg.KeyID, cfg.AppKey, "")
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, errors.Wrap(err, "creating aws session")
		}
		return NewClient(NewS3Provider(sess), cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, errors.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// Key returns the object key of name within run.
func (c *Client) Key(runID, name string) string {
	return path.Join(c.prefix, runID, name)
}

// Publish uploads the file at localPath as name under run and returns its
// key.
func (c *Client) Publish(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := c.Key(runID, filepath.Base(localPath))
	if err := c.backend.Put(ctx, c.bucket, key, f, contentType(localPath)); err != nil {
		return "", errors.Wrapf(err, "uploading %s", key)
	}
	return key, nil
}

// Fetch downloads key into dir and returns the local path.
func (c *Client) Fetch(ctx context.Context, key, dir string) (string, error) {
	body, err := c.backend.Get(ctx, c.bucket, key)
	if err != nil {
		return "", errors.Wrapf(err, "downloading %s", key)
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, path.Base(key))
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s", dst)
	}
	return dst, f.Close()
}

// List returns the keys stored for run.
func (c *Client) List(ctx context.Context, runID string) ([]string, error) {
	return c.backend.List(ctx, c.bucket, c.Key(runID, "")+"/")
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
