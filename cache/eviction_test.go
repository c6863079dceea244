package cache

import (
	"testing"
)

func TestNoEvictionNeverEvicts(t *testing.T) {
	var policy EvictionPolicy = NoEviction{}
	for i := 0; i < 100; i++ {
		policy.OnPut("assets-v1:GET:/a")
	}
	if key, ok := policy.Evict(); ok {
		t.Errorf("evicted %s", key)
	}
}

func TestFIFOEvictsOldestBeyondBound(t *testing.T) {
	policy := NewFIFOEviction(2)
	policy.OnPut("assets-v1:GET:/a")
	policy.OnPut("assets-v1:GET:/b")
	if key, ok := policy.Evict(); ok {
		t.Fatalf("evicted %s below the bound", key)
	}
	policy.OnPut("assets-v1:GET:/c")
	key, ok := policy.Evict()
	if !ok || key != "assets-v1:GET:/a" {
		t.Fatalf("got %s %v", key, ok)
	}
	if key, ok := policy.Evict(); ok {
		t.Fatalf("evicted %s past the bound", key)
	}
}

func TestFIFOOverwriteKeepsInsertionOrder(t *testing.T) {
	policy := NewFIFOEviction(2)
	policy.OnPut("assets-v1:GET:/a")
	policy.OnPut("assets-v1:GET:/b")
	// overwriting an entry must not count as a new insertion
	policy.OnPut("assets-v1:GET:/a")
	policy.OnPut("assets-v1:GET:/c")
	key, ok := policy.Evict()
	if !ok || key != "assets-v1:GET:/a" {
		t.Fatalf("got %s %v", key, ok)
	}
}
