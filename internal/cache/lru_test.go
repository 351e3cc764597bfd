package cache

import "testing"

func TestLRUEvictsOldest(t *testing.T) {
	c := newLRU(2)
	c.set("a", []byte("1"))
	c.set("b", []byte("2"))
	c.set("c", []byte("3"))

	if _, ok := c.get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if v, ok := c.get("b"); !ok || string(v) != "2" {
		t.Errorf("get(b) = %q, %v", v, ok)
	}
	if v, ok := c.get("c"); !ok || string(v) != "3" {
		t.Errorf("get(c) = %q, %v", v, ok)
	}
}

func TestLRUTouchOnGetPreventsEviction(t *testing.T) {
	c := newLRU(2)
	c.set("a", []byte("1"))
	c.set("b", []byte("2"))
	c.get("a") // touch a, making b the least recently used
	c.set("c", []byte("3"))

	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted, a was touched more recently")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to survive eviction")
	}
}

func TestLRUDelete(t *testing.T) {
	c := newLRU(4)
	c.set("a", []byte("1"))
	c.delete("a")
	if _, ok := c.get("a"); ok {
		t.Error("expected a to be gone after delete")
	}
	if c.len() != 0 {
		t.Errorf("len = %d, want 0", c.len())
	}
}
