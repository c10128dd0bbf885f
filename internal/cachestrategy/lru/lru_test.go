package lru

import "testing"

func TestStrategy_GetAdd(t *testing.T) {
	s, err := New[int, []byte](10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, ok := s.Get(1); ok {
		t.Error("Get() should return false for missing key")
	}

	s.Add(1, []byte("hello"))
	data, ok := s.Get(1)
	if !ok {
		t.Fatal("Get() should return true after Add")
	}
	if string(data) != "hello" {
		t.Errorf("Get() = %q, want %q", data, "hello")
	}
}

func TestStrategy_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New[int, string](2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Add(1, "one")
	s.Add(2, "two")
	s.Get(1) // 2 is now least recently used.
	if evicted := s.Add(3, "three"); !evicted {
		t.Error("Add() past capacity should report eviction")
	}

	if _, ok := s.Get(2); ok {
		t.Error("Get(2) should return false after eviction")
	}
	if _, ok := s.Get(1); !ok {
		t.Error("Get(1) should survive because it was recently used")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestStrategy_RemovePurge(t *testing.T) {
	s, err := New[string, int](4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Add("a", 1)
	s.Add("b", 2)

	if !s.Remove("a") {
		t.Error("Remove() should report present key")
	}
	if s.Remove("a") {
		t.Error("Remove() should report absent key")
	}

	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Len() after Purge() = %d, want 0", s.Len())
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New[int, int](0); err == nil {
		t.Error("New(0) should return error")
	}
	if _, err := New[int, int](-1); err == nil {
		t.Error("New(-1) should return error")
	}
}
