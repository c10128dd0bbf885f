package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/discochess/romstash/internal/store"
)

func TestStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	data := []byte("payload")
	if err := s.Write(ctx, "k1", data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data[0] = 'X'

	got, err := s.Read(ctx, "k1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Read() = %q, want %q", got, "payload")
	}

	got[0] = 'Y'
	again, _ := s.Read(ctx, "k1")
	if string(again) != "payload" {
		t.Errorf("Read() after caller mutation = %q, want %q", again, "payload")
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Read(ctx, "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Read() after Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_KeysAndLen(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		_ = s.Write(ctx, k, nil)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestStore_FailWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("disk full")

	s.FailWrites(func(key string) error {
		if key == "bad" {
			return boom
		}
		return nil
	})

	if err := s.Write(ctx, "bad", nil); !errors.Is(err, boom) {
		t.Errorf("Write(bad) error = %v, want %v", err, boom)
	}
	if err := s.Write(ctx, "good", nil); err != nil {
		t.Errorf("Write(good) error = %v", err)
	}

	s.FailWrites(nil)
	if err := s.Write(ctx, "bad", nil); err != nil {
		t.Errorf("Write(bad) after hook removal error = %v", err)
	}
}
