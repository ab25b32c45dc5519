package collection

import "github.com/nevindra/vtrt"

// MapHandler assigns indices to nodes for bulk-insert construction; the
// index-to-node mapping is supplied by a pluggable map handler.
type MapHandler interface {
	// Owner returns the node that should host idx, given the collection
	// spans [0, extent) along each used dimension and the world has
	// numNodes ranks.
	Owner(idx vtrt.Index, extent vtrt.Index, numNodes int) vtrt.NodeID
}

// BlockPartition is the default map handler: a contiguous block of the
// leading dimension's range per node.
type BlockPartition struct{}

func (BlockPartition) Owner(idx vtrt.Index, extent vtrt.Index, numNodes int) vtrt.NodeID {
	if numNodes <= 0 {
		return 0
	}
	total := extent.X()
	if total <= 0 {
		return 0
	}
	blockSize := (total + int64(numNodes) - 1) / int64(numNodes)
	if blockSize <= 0 {
		blockSize = 1
	}
	node := idx.X() / blockSize
	if node >= int64(numNodes) {
		node = int64(numNodes) - 1
	}
	if node < 0 {
		node = 0
	}
	return vtrt.NodeID(node)
}

// RoundRobin cycles indices across nodes by their flattened linear position,
// useful for workloads where block contiguity doesn't matter.
type RoundRobin struct{}

func (RoundRobin) Owner(idx vtrt.Index, extent vtrt.Index, numNodes int) vtrt.NodeID {
	if numNodes <= 0 {
		return 0
	}
	lin := idx.X()
	if idx.Dims >= 2 {
		lin = idx.X()*extent.Y() + idx.Y()
	}
	if idx.Dims >= 3 {
		lin = lin*extent.Coords[2] + idx.Coords[2]
	}
	n := lin % int64(numNodes)
	if n < 0 {
		n += int64(numNodes)
	}
	return vtrt.NodeID(n)
}

// FuncMapHandler adapts a plain function to MapHandler.
type FuncMapHandler func(idx, extent vtrt.Index, numNodes int) vtrt.NodeID

func (f FuncMapHandler) Owner(idx, extent vtrt.Index, numNodes int) vtrt.NodeID {
	return f(idx, extent, numNodes)
}
