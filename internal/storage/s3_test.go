package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://models/nl/pairs.train", "models", "nl/pairs.train", false},
		{"s3://models/", "", "", true},
		{"s3:///pairs.train", "", "", true},
		{"/data/pairs.train", "", "", true},
		{"https://models/pairs.train", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := ParseURL(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrNotS3URL) {
					t.Fatalf("expected ErrNotS3URL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Fatalf("got %s/%s, want %s/%s", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestOpener_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rels.train")
	if err := os.WriteFile(path, []byte("a b su\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	open := Opener(nil)
	r, err := open(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "a b su\n" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestOpener_S3WithoutClient(t *testing.T) {
	if _, err := Opener(nil)(context.Background(), "s3://models/pairs.train"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
