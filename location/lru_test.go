package location

import "testing"

func TestLRU_GetPutBasic(t *testing.T) {
	c := newLRU(2)
	c.put(1, 10)
	c.put(2, 20)

	if v, ok := c.get(1); !ok || v != 10 {
		t.Errorf("get(1) = %v,%v want 10,true", v, ok)
	}
	if v, ok := c.get(2); !ok || v != 20 {
		t.Errorf("get(2) = %v,%v want 20,true", v, ok)
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRU(2)
	c.put(1, 10)
	c.put(2, 20)
	c.get(1) // touch 1, making 2 the LRU victim
	c.put(3, 30)

	if _, ok := c.get(2); ok {
		t.Errorf("entity 2 should have been evicted")
	}
	if _, ok := c.get(1); !ok {
		t.Errorf("entity 1 should still be cached")
	}
	if _, ok := c.get(3); !ok {
		t.Errorf("entity 3 should be cached")
	}
}

func TestLRU_PutOverwritesAndRefreshes(t *testing.T) {
	c := newLRU(2)
	c.put(1, 10)
	c.put(2, 20)
	c.put(1, 11) // overwrite + refresh
	c.put(3, 30) // should evict 2, not 1

	if v, ok := c.get(1); !ok || v != 11 {
		t.Errorf("get(1) = %v,%v want 11,true", v, ok)
	}
	if _, ok := c.get(2); ok {
		t.Errorf("entity 2 should have been evicted")
	}
}

func TestLRU_CapacityFloor(t *testing.T) {
	c := newLRU(0)
	c.put(1, 10)
	c.put(2, 20)
	if c.len() != 1 {
		t.Errorf("len = %d, want 1 (capacity clamped to >=1)", c.len())
	}
}
