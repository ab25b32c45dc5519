package collection

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/group"
)

// Constructor produces the serialized initial state for one index, run on
// the node that will own it.
type Constructor func(idx vtrt.Index) ([]byte, error)

// hostNodes returns, in ascending order, every node that mh assigns at
// least one index of [0, extent) to, computed locally since mh is a pure
// function every node evaluates identically.
func hostNodes(extent vtrt.Index, mh MapHandler, numNodes int) []vtrt.NodeID {
	seen := make(map[vtrt.NodeID]bool)
	forEachIndex(extent, func(idx vtrt.Index) {
		seen[mh.Owner(idx, extent, numNodes)] = true
	})
	out := make([]vtrt.NodeID, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// forEachIndex enumerates every index in [0, extent) across up to 3
// dimensions in row-major order.
func forEachIndex(extent vtrt.Index, fn func(vtrt.Index)) {
	switch extent.Dims {
	case 1:
		for x := int64(0); x < extent.Coords[0]; x++ {
			fn(vtrt.Index1D(x))
		}
	case 2:
		for x := int64(0); x < extent.Coords[0]; x++ {
			for y := int64(0); y < extent.Coords[1]; y++ {
				fn(vtrt.Index2D(x, y))
			}
		}
	default:
		for x := int64(0); x < extent.Coords[0]; x++ {
			for y := int64(0); y < extent.Coords[1]; y++ {
				for z := int64(0); z < extent.Coords[2]; z++ {
					fn(vtrt.Index{Dims: extent.Dims, Coords: [3]int64{x, y, z}})
				}
			}
		}
	}
}

// CreateBulk constructs every index in [0, extent) exactly once, placed
// according to mh, and assembles the node-level spanning tree the
// collection's broadcasts and reductions travel over. Every index in the
// bounded range gets constructed exactly once. Every node calls CreateBulk
// identically; each only runs construct for the
// indices mh assigns to itself.
func (m *Manager) CreateBulk(ctx context.Context, extent vtrt.Index, mh MapHandler, numNodes int, construct Constructor) (*Collection, error) {
	c := m.newCollection(extent, mh, numNodes)

	var mine []vtrt.Index
	forEachIndex(extent, func(idx vtrt.Index) {
		if mh.Owner(idx, extent, numNodes) == m.self {
			mine = append(mine, idx)
		}
	})

	results := make([][]byte, len(mine))
	var g errgroup.Group
	for i, idx := range mine {
		i, idx := i, idx
		g.Go(func() error {
			data, err := construct(idx)
			if err != nil {
				return fmt.Errorf("collection: construct %s[%s]: %w", c.Proxy, idx, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, idx := range mine {
		m.construct(elemKey{Coll: c.Proxy, Idx: idx}, m.self, results[i])
	}

	hosts := hostNodes(extent, mh, numNodes)
	region, err := m.grp.CreateCollective(ctx, hosts, uint64(c.Proxy.SeqNum), true)
	if err != nil {
		return nil, fmt.Errorf("collection: build spanning tree: %w", err)
	}
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	m.trackRegion(region.ID, c.Proxy)
	return c, nil
}

// CreateCollectiveInsert constructs a collection where every participating
// node proposes its own subset of indices inside one collective scope; the
// union across all of members becomes the live set. members must be
// identical and in the same order on every caller.
func (m *Manager) CreateCollectiveInsert(ctx context.Context, members []vtrt.NodeID, tag uint64, localIndices []vtrt.Index, construct Constructor) (*Collection, error) {
	c := m.newCollection(vtrt.Index{}, nil, len(members))

	results := make([][]byte, len(localIndices))
	var g errgroup.Group
	for i, idx := range localIndices {
		i, idx := i, idx
		g.Go(func() error {
			data, err := construct(idx)
			if err != nil {
				return fmt.Errorf("collection: construct %s[%s]: %w", c.Proxy, idx, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, idx := range localIndices {
		m.construct(elemKey{Coll: c.Proxy, Idx: idx}, m.self, results[i])
	}

	region, err := m.grp.CreateCollective(ctx, members, tag, true)
	if err != nil {
		return nil, fmt.Errorf("collection: build spanning tree: %w", err)
	}
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	m.trackRegion(region.ID, c.Proxy)
	return c, nil
}

// BeginModification opens a dynamic-membership bracket on c: insertions
// queued via Insert before the matching FinishModification are buffered
// rather than applied immediately; the location directory is updated
// before the bracket closes.
func (c *Collection) BeginModification() {
	c.mu.Lock()
	c.modifying = true
	c.mu.Unlock()
}

// Insert stages an element to be constructed with idx/data on the local
// node, applied at the next FinishModification. If c's spanning tree isn't
// built yet (first dynamic insertion ever), the request is buffered until
// FinishModification establishes it, so a late-joining dynamic group still
// has its inserts applied once the tree is known.
func (c *Collection) Insert(idx vtrt.Index, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.modifying {
		return fmt.Errorf("collection: Insert outside a BeginModification/FinishModification bracket")
	}
	c.pendingJoins = append(c.pendingJoins, Index{Idx: idx, Data: data})
	return nil
}

// FinishModification applies every Insert staged since BeginModification:
// constructs the local elements, registers them in the location directory,
// and (re)builds the collective spanning tree over allMembers so the new
// elements' hosts are reachable by broadcast/reduce.
func (m *Manager) FinishModification(ctx context.Context, c *Collection, allMembers []vtrt.NodeID, tag uint64) error {
	c.mu.Lock()
	pending := c.pendingJoins
	c.pendingJoins = nil
	c.modifying = false
	c.mu.Unlock()

	for _, ins := range pending {
		m.construct(elemKey{Coll: c.Proxy, Idx: ins.Idx}, m.self, ins.Data)
	}

	region, err := m.grp.CreateCollective(ctx, allMembers, tag, false)
	if err != nil {
		return fmt.Errorf("collection: rebuild spanning tree: %w", err)
	}
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	m.trackRegion(region.ID, c.Proxy)
	return nil
}

// Region returns c's current node spanning tree, or nil if not yet built
// (e.g. a dynamic collection before its first FinishModification).
func (c *Collection) Region() *group.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}
