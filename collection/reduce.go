package collection

import (
	"context"
	"fmt"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/reduction"
)

// Reduce combines every live element of c into one value via perElement and
// op, then feeds the node-level combined value into the collection's group
// reduction: per-element contributions are combined locally first, then
// the node-level combined value is fed into the tree reduction over the
// collection's group. identity seeds the local fold, covering nodes that
// currently host zero live elements of c (every member of the group's tree
// must contribute for the reduction to complete). key.Group is overwritten
// with c's current region id.
func Reduce[T any](ctx context.Context, m *Manager, c *Collection, reducer *reduction.Reducer[T], key reduction.Key, op reduction.Op[T], identity T, perElement func(idx vtrt.Index, data []byte) T) error {
	region := c.Region()
	if region == nil {
		return fmt.Errorf("collection: reduce on %s before its spanning tree is built", c.Proxy)
	}
	key.Group = region.ID

	type contribution struct {
		idx  vtrt.Index
		data []byte
	}
	m.mu.Lock()
	var live []contribution
	for k, e := range m.elements {
		if k.Coll != c.Proxy {
			continue
		}
		e.mu.Lock()
		if e.State == Live {
			live = append(live, contribution{idx: k.Idx, data: e.Data})
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()

	combined := identity
	for _, item := range live {
		combined = op(combined, perElement(item.idx, item.data))
	}
	return reducer.Contribute(ctx, key, combined)
}
