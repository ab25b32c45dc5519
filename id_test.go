package vtrt

import "testing"

// TestHandlerID_Bijection checks that RegistrarID/ObjIndex round-trip
// through the packed HandlerID, and that distinct (taxonomy, id, objIndex)
// tuples never collide.
func TestHandlerID_Bijection(t *testing.T) {
	cases := []struct {
		name     string
		id       HandlerID
		wantObj  bool
		wantID   uint32
		wantIdx  uint32
	}{
		{"auto-zero", MakeAutoHandlerID(0), false, 0, 0},
		{"auto-mid", MakeAutoHandlerID(42), false, 42, 0},
		{"auto-max", MakeAutoHandlerID(1<<32 - 1), false, 1<<32 - 1, 0},
		{"objgroup-zero", MakeObjGroupHandlerID(0, 0), true, 0, 0},
		{"objgroup-mid", MakeObjGroupHandlerID(7, 3), true, 7, 3},
		{"objgroup-max-idx", MakeObjGroupHandlerID(1, 1<<31-1), true, 1, 1<<31 - 1},
	}
	seen := map[HandlerID]string{}
	for _, c := range cases {
		if got := c.id.IsObjGroup(); got != c.wantObj {
			t.Errorf("%s: IsObjGroup() = %v, want %v", c.name, got, c.wantObj)
		}
		if got := c.id.RegistrarID(); got != c.wantID {
			t.Errorf("%s: RegistrarID() = %d, want %d", c.name, got, c.wantID)
		}
		if c.wantObj {
			if got := c.id.ObjIndex(); got != c.wantIdx {
				t.Errorf("%s: ObjIndex() = %d, want %d", c.name, got, c.wantIdx)
			}
		}
		if prev, ok := seen[c.id]; ok {
			t.Fatalf("%s collides with %s: both pack to %#x", c.name, prev, uint64(c.id))
		}
		seen[c.id] = c.name
	}
}

// TestHandlerID_ForObjectRoundTrip covers the ForObject addressing path used
// by object-group dispatch.
func TestHandlerID_ForObjectRoundTrip(t *testing.T) {
	base := MakeObjGroupHandlerID(5, 0)
	addressed := base.ForObject(9)
	if !addressed.IsObjGroup() {
		t.Fatal("ForObject result should still be an obj-group handler")
	}
	if addressed.RegistrarID() != 5 {
		t.Fatalf("RegistrarID() = %d, want 5", addressed.RegistrarID())
	}
	if addressed.ObjIndex() != 9 {
		t.Fatalf("ObjIndex() = %d, want 9", addressed.ObjIndex())
	}
}

// TestEpochID_PackingBijection checks that for every representable tuple
// (rooted, category, node, sequence), get(set(tuple)) == tuple.
func TestEpochID_PackingBijection(t *testing.T) {
	cats := []*EpochCategory{nil}
	for c := CategoryDefault; c <= CategoryCollection; c++ {
		c := c
		cats = append(cats, &c)
	}

	nodes := []NodeID{0, 1, 17, 42, 1<<16 - 1}
	seqs := []uint32{0, 1, 1000, 1<<32 - 1}
	scopes := []uint8{0, 1, 255}

	for _, rooted := range []bool{false, true} {
		for _, cat := range cats {
			for _, node := range nodes {
				for _, seq := range seqs {
					for _, scope := range scopes {
						var e EpochID
						if rooted {
							e = MakeEpochRooted(node, scope, seq, cat)
						} else {
							e = MakeEpochCollective(node, scope, seq, cat)
						}
						if e.IsRooted() != rooted {
							t.Fatalf("IsRooted() = %v, want %v (node=%d seq=%d)", e.IsRooted(), rooted, node, seq)
						}
						if e.Node() != node {
							t.Fatalf("Node() = %d, want %d", e.Node(), node)
						}
						if e.Seq() != seq {
							t.Fatalf("Seq() = %d, want %d", e.Seq(), seq)
						}
						if e.GetScope() != scope {
							t.Fatalf("GetScope() = %d, want %d", e.GetScope(), scope)
						}
						wantHasCat := cat != nil
						if e.HasCategory() != wantHasCat {
							t.Fatalf("HasCategory() = %v, want %v", e.HasCategory(), wantHasCat)
						}
						if wantHasCat && e.Category() != *cat {
							t.Fatalf("Category() = %d, want %d", e.Category(), *cat)
						}
					}
				}
			}
		}
	}
}

// TestEpochID_Next covers child-epoch derivation: Next preserves every bit
// except the sequence, which advances by exactly one.
func TestEpochID_Next(t *testing.T) {
	cat := CategoryUser
	e := MakeEpochRooted(3, 5, 100, &cat)
	n := e.Next()
	if n.Seq() != 101 {
		t.Fatalf("Next().Seq() = %d, want 101", n.Seq())
	}
	if n.IsRooted() != e.IsRooted() || n.Node() != e.Node() || n.GetScope() != e.GetScope() || n.Category() != e.Category() {
		t.Fatalf("Next() changed a non-sequence field: %s -> %s", e, n)
	}
}

// TestEpochID_SeqWraparoundStaysDisjointFromOtherFields confirms the max
// sequence value does not bleed into the node/scope bits.
func TestEpochID_SeqWraparoundStaysDisjointFromOtherFields(t *testing.T) {
	e := MakeEpochCollective(1, 2, 1<<32-1, nil)
	if e.Node() != 1 || e.GetScope() != 2 {
		t.Fatalf("max sequence corrupted node/scope: node=%d scope=%d", e.Node(), e.GetScope())
	}
	if e.Seq() != 1<<32-1 {
		t.Fatalf("Seq() = %d, want max uint32", e.Seq())
	}
}

func TestGroupID_PackingRoundTrip(t *testing.T) {
	for _, collective := range []bool{false, true} {
		for _, static := range []bool{false, true} {
			g := MakeGroupID(collective, static, 9, 12345)
			if g.IsCollective() != collective || g.IsStatic() != static {
				t.Fatalf("flags round-trip failed: collective=%v static=%v got %s", collective, static, g)
			}
			if g.OriginNode() != 9 || g.Seq() != 12345 {
				t.Fatalf("fields round-trip failed: %s", g)
			}
		}
	}
}

func TestCallbackID_PackingRoundTrip(t *testing.T) {
	for _, persist := range []bool{false, true} {
		for _, sendBack := range []bool{false, true} {
			c := MakeCallbackID(4, 999, persist, sendBack)
			if c.Persist() != persist || c.SendBackToSender() != sendBack {
				t.Fatalf("flags round-trip failed: persist=%v sendBack=%v", persist, sendBack)
			}
			if c.Node() != 4 || c.Seq() != 999 {
				t.Fatalf("fields round-trip failed: node=%d seq=%d", c.Node(), c.Seq())
			}
		}
	}
}

func TestIndex_Accessors(t *testing.T) {
	i1 := Index1D(7)
	if i1.X() != 7 || i1.Dims != 1 {
		t.Fatalf("Index1D: X()=%d Dims=%d", i1.X(), i1.Dims)
	}
	i2 := Index2D(3, 4)
	if i2.X() != 3 || i2.Y() != 4 || i2.Dims != 2 {
		t.Fatalf("Index2D: X()=%d Y()=%d Dims=%d", i2.X(), i2.Y(), i2.Dims)
	}
}
