package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
)

// ObjectStore is the remote defect store: a blob store holding one JSON
// metadata object and one JPEG per detection.
type ObjectStore interface {
	// List returns object keys under prefix, ordered by key descending
	// (most-recently-named first), at most max entries.
	List(ctx context.Context, prefix string, max int) ([]string, error)
	// Read returns the full contents of one object.
	Read(ctx context.Context, key string) ([]byte, error)
	// SignURL returns a time-limited read URL for an object.
	SignURL(key string, ttl time.Duration) (string, error)
	// Ready verifies the backing store is reachable.
	Ready(ctx context.Context) error
}

// GCSStore talks to a Google Cloud Storage bucket. Construct exactly once
// at process start; Ready does a real bucket metadata call instead of a
// flag mutated by a background check.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *Logger
}

// NewGCSStore opens the storage client. It does not probe the bucket;
// callers decide when to check Ready.
func NewGCSStore(ctx context.Context, cfg *config.Config, logger *Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if cfg.ClientEmail != "" && cfg.PrivateKey != "" {
		creds := fmt.Sprintf(`{"type":"service_account","project_id":%q,"client_email":%q,"private_key":%q}`,
			cfg.GCPProjectID, cfg.ClientEmail, cfg.PrivateKey)
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.GCSBucketName,
		logger: logger,
	}, nil
}

// Ready checks that the bucket exists and is reachable.
func (s *GCSStore) Ready(ctx context.Context) error {
	if s.bucket == "" {
		return errors.New("bucket name not configured")
	}
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string, max int) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}

	// GCS lists ascending; the dashboard wants newest-named first.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys, nil
}

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) SignURL(key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return url, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
