package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"run_id":"r1"}`)
	uri, err := store.PutObject(context.Background(), "reports/r1/summary.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://reports/r1/summary.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'X'
	stored, ok := store.Object("reports/r1/summary.json")
	if !ok {
		t.Fatalf("expected stored object")
	}
	if string(stored) != `{"run_id":"r1"}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStoreObjectMiss(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, ok := store.Object("reports/absent.json"); ok {
		t.Fatalf("expected a miss for an unwritten path")
	}
}
