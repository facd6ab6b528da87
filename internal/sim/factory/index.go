package factory

import (
	"fmt"

	"factoryline.ai/internal/sim/buffer"
)

// NodeID addresses a node in the index arena.
type NodeID int

// NoNode marks an absent child, parent or root.
const NoNode NodeID = -1

// Node is one entry of the station index.
type Node struct {
	ID        NodeID `json:"id"`
	StationID string `json:"station"`
	Pos       Pos    `json:"pos"`
	Parent    NodeID `json:"parent"`
	Left      NodeID `json:"left"`
	Right     NodeID `json:"right"`
}

// Index is the static binary tree of declared station relations. It serves
// position lookup and ordered listings. Tick never consults it.
type Index struct {
	nodes     []Node
	root      NodeID
	byStation map[string]NodeID
}

func NewIndex() *Index {
	return &Index{root: NoNode, byStation: map[string]NodeID{}}
}

// Insert adds st at pos. parent NoNode makes the node the root; otherwise left
// selects the child slot under parent.
func (x *Index) Insert(st *Station, pos Pos, parent NodeID, left bool) (NodeID, error) {
	if st == nil {
		return NoNode, fmt.Errorf("index insert: %w", ErrUnknownStation)
	}
	if pos != st.pos {
		return NoNode, fmt.Errorf("index insert %q at %s (station at %s): %w", st.id, pos, st.pos, ErrPositionMismatch)
	}
	if _, ok := x.byStation[st.id]; ok {
		return NoNode, fmt.Errorf("index insert %q: %w", st.id, ErrAlreadyIndexed)
	}
	id := NodeID(len(x.nodes))
	if parent == NoNode {
		if x.root != NoNode {
			return NoNode, fmt.Errorf("index insert %q: %w", st.id, ErrRootExists)
		}
		x.root = id
	} else {
		if parent < 0 || int(parent) >= len(x.nodes) {
			return NoNode, fmt.Errorf("index insert %q under %d: %w", st.id, parent, ErrUnknownParent)
		}
		p := &x.nodes[parent]
		slot := &p.Right
		if left {
			slot = &p.Left
		}
		if *slot != NoNode {
			return NoNode, fmt.Errorf("index insert %q under %q: %w", st.id, p.StationID, ErrChildTaken)
		}
		*slot = id
	}
	x.nodes = append(x.nodes, Node{ID: id, StationID: st.id, Pos: pos, Parent: parent, Left: NoNode, Right: NoNode})
	x.byStation[st.id] = id
	return id, nil
}

func (x *Index) Len() int { return len(x.nodes) }

func (x *Index) Root() (Node, bool) { return x.Node(x.root) }

func (x *Index) Node(id NodeID) (Node, bool) {
	if id < 0 || int(id) >= len(x.nodes) {
		return Node{}, false
	}
	return x.nodes[id], true
}

// NodeFor returns the node indexing a station.
func (x *Index) NodeFor(stationID string) (Node, bool) {
	id, ok := x.byStation[stationID]
	if !ok {
		return Node{}, false
	}
	return x.nodes[id], true
}

// FindByPosition walks depth-first, left subtree before right.
func (x *Index) FindByPosition(pos Pos) (Node, bool) {
	if x.root == NoNode {
		return Node{}, false
	}
	stack := buffer.NewStack[NodeID](len(x.nodes))
	stack.Push(x.root)
	for !stack.IsEmpty() {
		id, _ := stack.Pop()
		n := x.nodes[id]
		if n.Pos == pos {
			return n, true
		}
		if n.Right != NoNode {
			stack.Push(n.Right)
		}
		if n.Left != NoNode {
			stack.Push(n.Left)
		}
	}
	return Node{}, false
}

// InOrder lists nodes left, self, right.
func (x *Index) InOrder() []Node {
	out := make([]Node, 0, len(x.nodes))
	stack := buffer.NewStack[NodeID](len(x.nodes))
	cur := x.root
	for cur != NoNode || !stack.IsEmpty() {
		for cur != NoNode {
			stack.Push(cur)
			cur = x.nodes[cur].Left
		}
		id, _ := stack.Pop()
		out = append(out, x.nodes[id])
		cur = x.nodes[id].Right
	}
	return out
}
