package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// ReceiptStore persists deposit receipts and returns a publicly reachable URL.
type ReceiptStore interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// UnconfiguredReceiptStore stands in when no bucket is configured; every
// upload fails so deposits cannot silently lose their receipts.
type UnconfiguredReceiptStore struct{}

func (UnconfiguredReceiptStore) Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	return "", errors.New("receipt storage is not configured")
}

type GCSReceiptStore struct {
	bucket string
}

func NewGCSReceiptStore(bucket string) (*GCSReceiptStore, error) {
	if bucket == "" {
		return nil, errors.New("receipts bucket is required")
	}
	return &GCSReceiptStore{bucket: bucket}, nil
}

// getGoogleClient prefers ADC (GOOGLE_APPLICATION_CREDENTIALS / workload
// identity); GCS_CREDENTIALS_JSON provides explicit JSON for local runs.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func (s *GCSReceiptStore) Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	objectName := receiptObjectName(filename)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload receipt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload receipt: %w", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectName), nil
}

func receiptObjectName(filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("receipts/receipt-%d-%s%s", time.Now().Unix(), uuid.NewString(), ext)
}
