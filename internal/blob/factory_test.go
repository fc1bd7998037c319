package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"varianthunter/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.ExportConfig
		want Driver
	}{
		{config.ExportConfig{FSRoot: t.TempDir()}, DriverFilesystem},
		{config.ExportConfig{Driver: "fs", FSRoot: t.TempDir()}, DriverFilesystem},
		{config.ExportConfig{Driver: "memory"}, DriverMemory},
		{config.ExportConfig{Driver: "s3", S3: config.S3Config{Bucket: "exports", Region: "eu-west-1", AccessKeyID: "k", SecretAccessKey: "s"}}, DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, store.Driver())
		}
	}
}

func TestOpenInvalidDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.ExportConfig{Driver: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), config.ExportConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
}

func TestMemoryStoreThroughFacade(t *testing.T) {
	ctx := context.Background()
	bs := NewMemory()
	if _, err := bs.Put(ctx, "exports/a.csv", bytes.NewReader([]byte("data")), PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := bs.Put(ctx, "exports/a.csv", bytes.NewReader([]byte("x")), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := bs.Get(ctx, "exports/a.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "data" {
		t.Fatalf("bad payload %q", b)
	}
	if _, err := bs.Head(ctx, "exports/missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
