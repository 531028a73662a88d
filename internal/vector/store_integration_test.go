//go:build integration

package vector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL, 4)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_UpsertAndFetch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	hash := "chunk_it_" + uuid.New().String()[:8]

	records := []Record{{
		MessageHash: hash,
		ChatID:      "chat_integration",
		Model:       "test-model",
		Embedding:   []float32{0.1, 0.2, 0.3, 0.4},
	}}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Fetch(ctx, []string{hash})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	vec, ok := got[hash]
	if !ok {
		t.Fatalf("hash %s not found after upsert", hash)
	}
	if len(vec) != 4 || vec[0] != 0.1 {
		t.Errorf("embedding = %v", vec)
	}

	// Second upsert of the same hash must not error and must overwrite.
	records[0].Embedding = []float32{0.5, 0.5, 0.5, 0.5}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	got, err = s.Fetch(ctx, []string{hash})
	if err != nil {
		t.Fatalf("Fetch after re-upsert failed: %v", err)
	}
	if got[hash][0] != 0.5 {
		t.Errorf("re-upsert did not overwrite, got %v", got[hash])
	}
}
