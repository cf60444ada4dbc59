package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/apim-gateway/gwbundle/internal/config"
)

type GCPCloudStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCPCloudStorage creates a store for a Cloud Storage bucket. Without
// credentials the application default credentials are used.
func NewGCPCloudStorage(ctx context.Context, cfg *config.GCPCloudStorage) (*GCPCloudStorage, error) {
	var opts []option.ClientOption
	if cfg.Credentials != nil {
		value, err := cfg.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		creds, ok := value.(config.SecretGCP)
		if !ok {
			return nil, fmt.Errorf("unsupported credentials type %T for gcp cloud storage", value)
		}
		switch {
		case creds.Credentials != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(creds.Credentials)))
		case creds.APIKey != "":
			opts = append(opts, option.WithAPIKey(creds.APIKey))
		}
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcp cloud storage client: %w", err)
	}
	return &GCPCloudStorage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCPCloudStorage) Put(ctx context.Context, name string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, name)).NewWriter(ctx)
	w.Metadata = map[string]string{"sha256": checksum(data)}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
