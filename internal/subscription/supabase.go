package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"
)

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	// Object is the key the record is written under.
	Object string
}

// SupabaseStore mirrors the record into a Supabase Storage bucket.
type SupabaseStore struct {
	object string
	upload func(key string, data []byte) error
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	object := cfg.Object
	if object == "" {
		object = "mio/subscription.json"
	}
	bucket := cfg.Bucket
	return &SupabaseStore{
		object: object,
		upload: func(key string, data []byte) error {
			if _, err := client.Storage.UploadFile(bucket, key, bytes.NewReader(data)); err != nil {
				// object already exists; replace it
				if _, uerr := client.Storage.UpdateFile(bucket, key, bytes.NewReader(data)); uerr != nil {
					return fmt.Errorf("upload: %v, update: %w", err, uerr)
				}
			}
			return nil
		},
	}, nil
}

func (s *SupabaseStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := s.upload(s.object, data); err != nil {
		return fmt.Errorf("%w: failed to upload to Supabase: %v", ErrWriteFailed, err)
	}
	log.Printf("subscription: mirrored record to supabase object %s", s.object)
	return nil
}
