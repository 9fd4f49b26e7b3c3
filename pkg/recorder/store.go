// Package recorder captures call audio through a carrier-side composite
// egress and stores the artifact in an object bucket or on local disk.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/supabase-community/supabase-go"
)

// ObjectStore abstracts where finished recordings land.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// SupabaseConfig holds bucket credentials.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStore uploads recordings to a Supabase storage bucket.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseStore builds the bucket client.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStore) Upload(_ context.Context, key, _ string, data []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// LocalStore writes recordings under a directory.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) Upload(_ context.Context, key, _ string, data []byte) error {
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recording %s: %w", key, err)
	}
	return nil
}
