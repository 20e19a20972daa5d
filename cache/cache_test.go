package cache

import (
	"testing"
	"time"
)

func TestQueryKeyStableUnderNamespaceOrder(t *testing.T) {
	a := QueryKey("hello", 5, []string{"b", "a"})
	b := QueryKey("hello", 5, []string{"a", "b"})
	if a != b {
		t.Fatalf("expected namespace-order-independent key, got %q vs %q", a, b)
	}
	c := QueryKey("hello", 6, []string{"a", "b"})
	if a == c {
		t.Fatalf("expected different k to change the key")
	}
}

func TestTypedCacheGetSet(t *testing.T) {
	c := NewTypedCache[int](50*time.Millisecond, time.Second)
	if _, ok := c.Get("x"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set("x", 42)
	v, ok := c.Get("x")
	if !ok || v != 42 {
		t.Fatalf("expected hit with 42, got %v %v", v, ok)
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatalf("expected entry to expire after ttl")
	}
}

func TestVectorCacheEvictsOldestOnCapacity(t *testing.T) {
	v := NewVectorCache(2)
	v.Set("a", []byte{1})
	v.Set("b", []byte{2})
	v.Set("c", []byte{3})
	if _, ok := v.Get("a"); ok {
		t.Fatalf("expected oldest entry a to be evicted")
	}
	if _, ok := v.Get("b"); !ok {
		t.Fatalf("expected b to survive")
	}
	if _, ok := v.Get("c"); !ok {
		t.Fatalf("expected c to survive")
	}
	if v.Len() != 2 {
		t.Fatalf("expected len 2, got %d", v.Len())
	}
}

func TestVectorCacheOverwriteDoesNotEvict(t *testing.T) {
	v := NewVectorCache(2)
	v.Set("a", []byte{1})
	v.Set("b", []byte{2})
	v.Set("a", []byte{9})
	if _, ok := v.Get("b"); !ok {
		t.Fatalf("expected b to survive an overwrite of a")
	}
	got, _ := v.Get("a")
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("expected a updated to [9], got %v", got)
	}
}

func TestAdmissionRejectsOverCapacity(t *testing.T) {
	a := NewAdmission(1)
	if err := a.Enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := a.Enter(); err != ErrAdmissionFull {
		t.Fatalf("expected ErrAdmissionFull on second enter, got %v", err)
	}
	a.Leave()
	if err := a.Enter(); err != nil {
		t.Fatalf("expected enter to succeed after leave: %v", err)
	}
}

func TestAdmissionDisabledWhenZero(t *testing.T) {
	a := NewAdmission(0)
	for i := 0; i < 5; i++ {
		if err := a.Enter(); err != nil {
			t.Fatalf("expected unlimited admission, got %v", err)
		}
	}
}
