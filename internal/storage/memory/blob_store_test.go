package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Object("path/page.html")
	if !ok {
		t.Fatal("object was not stored")
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStorePutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), "  ", "text/html", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestBlobStoreObjectReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), "digest.json", "application/json", bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	first, _ := store.Object("digest.json")
	first[0] = 'x'
	second, _ := store.Object("digest.json")
	if string(second) != "abc" {
		t.Fatalf("expected the store to hand out copies, got %q", second)
	}
}
