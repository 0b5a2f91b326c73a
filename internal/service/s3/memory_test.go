package s3

import (
	"context"
	"errors"
	"testing"

	"clinicnotes/internal/domain"
)

func TestMemoryStoragePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	data := []byte("Subjective: patient reports improved sleep")
	if err := store.Put(ctx, "notes/n1/versions/v1", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Изменение исходного буфера не должно влиять на сохранённые данные
	data[0] = 'X'

	got, err := store.Get(ctx, "notes/n1/versions/v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "Subjective: patient reports improved sleep" {
		t.Errorf("Unexpected content: %q", got)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 object, got %d", store.Len())
	}
}

func TestMemoryStorageMissingKey(t *testing.T) {
	store := NewMemoryStorage()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrBlobNotFound) {
		t.Fatalf("Expected ErrBlobNotFound, got %v", err)
	}

	if err := store.Put(context.Background(), "", []byte("x")); err == nil {
		t.Error("Expected error for empty key")
	}
}
