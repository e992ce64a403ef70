// Package tree is the exclusive owner of the node and connection collections.
// All structural mutation of the lineage tree goes through the Store.
//
// The tree is a flat id-keyed map with parent pointers, walked iteratively.
// Mutations are whole-node replacements: a patch produces a new node value
// substituted into the map, so a read at any point observes a consistent node.
package tree

import (
	"errors"
	"sync"

	"flora/internal/logging"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an operation references a node id that is not
// (or is no longer) in the tree.
var ErrNotFound = errors.New("node not found")

// Kind classifies a node's role.
type Kind string

const (
	// KindSeed marks the root identity/reference image of a branch.
	KindSeed Kind = "seed"
	// KindVariation marks a generated descendant.
	KindVariation Kind = "variation"
)

// LabelError is the sentinel label meaning generation failed for a node.
const LabelError = "ERROR"

// LabelSeed is the label given to seed frames.
const LabelSeed = "SEED FRAME"

// Sibling layout spacing, in canvas units.
const (
	XSpacing = 320.0
	YSpacing = 400.0
)

// Position is a coordinate in canvas space, independent of the viewport.
type Position struct {
	X, Y float64
}

// Meta carries per-node generation metadata.
type Meta struct {
	// Intent is the transformation category that produced this node.
	// Empty for the seed.
	Intent string
}

// Node is a single generated or seed image.
type Node struct {
	ID       string
	ParentID string // empty for the root seed
	Kind     Kind
	ImageURL string // empty while generation is pending
	Prompt   string
	Label    string
	Position Position
	Pending  bool
	Meta     Meta
}

// Connection is a directed edge (From, To) mirroring To's ParentID.
// Maintained redundantly for render convenience; the Store keeps it
// consistent with the tree.
type Connection struct {
	ID   string
	From string
	To   string
}

// BatchSlot places a child within a batch of siblings spawned together.
// Index is the child's position in the batch, Count the batch size.
// The zero value (single child) is valid.
type BatchSlot struct {
	Index int
	Count int
}

// ChildSpec carries the initial fields of a new child node.
type ChildSpec struct {
	Prompt string
	Label  string
	Intent string
	Slot   BatchSlot
}

// Patch is a partial node update. Nil fields are left unchanged.
type Patch struct {
	ImageURL *string
	Prompt   *string
	Label    *string
	Pending  *bool
}

// Store owns the node and connection collections.
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]Node
	order       []string // insertion order, for stable iteration
	connections []Connection
	selected    string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{nodes: make(map[string]Node)}
}

// InsertSeed creates the root seed node at the canvas origin and returns its id.
func (s *Store) InsertSeed(prompt, imageURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.nodes[id] = Node{
		ID:       id,
		Kind:     KindSeed,
		ImageURL: imageURL,
		Prompt:   prompt,
		Label:    LabelSeed,
		Position: Position{X: 0, Y: 0},
	}
	s.order = append(s.order, id)
	logging.Tree("seed inserted id=%s", id)
	return id
}

// InsertChild creates a pending child of parentID with a fresh id and a
// matching connection, positioned by the batch layout rule. Returns
// ErrNotFound if the parent does not exist.
func (s *Store) InsertChild(parentID string, spec ChildSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.nodes[parentID]
	if !ok {
		return "", ErrNotFound
	}

	id := uuid.NewString()
	s.nodes[id] = Node{
		ID:       id,
		ParentID: parentID,
		Kind:     KindVariation,
		Prompt:   spec.Prompt,
		Label:    spec.Label,
		Position: childPosition(parent.Position, spec.Slot),
		Pending:  true,
		Meta:     Meta{Intent: spec.Intent},
	}
	s.order = append(s.order, id)
	s.connections = append(s.connections, Connection{
		ID:   "c-" + id,
		From: parentID,
		To:   id,
	})
	logging.Tree("child inserted id=%s parent=%s intent=%s", id, parentID, spec.Intent)
	return id, nil
}

// childPosition spaces batch siblings evenly along a vertical axis centered
// on the parent, at a fixed horizontal offset, so a batch of N forms a
// vertically symmetric fan regardless of N.
func childPosition(parent Position, slot BatchSlot) Position {
	count := slot.Count
	if count < 1 {
		count = 1
	}
	groupHeight := float64(count-1) * YSpacing
	startY := parent.Y - groupHeight/2
	return Position{
		X: parent.X + XSpacing,
		Y: startY + float64(slot.Index)*YSpacing,
	}
}

// UpdateNode applies a partial update to a node. A missing id is a silent
// no-op: the node may have been deleted while an async generation was in
// flight, and a stale completion must never resurrect it.
func (s *Store) UpdateNode(id string, patch Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		logging.TreeDebug("update dropped, node gone id=%s", id)
		return
	}
	if patch.ImageURL != nil {
		n.ImageURL = *patch.ImageURL
	}
	if patch.Prompt != nil {
		n.Prompt = *patch.Prompt
	}
	if patch.Label != nil {
		n.Label = *patch.Label
	}
	if patch.Pending != nil {
		n.Pending = *patch.Pending
	}
	s.nodes[id] = n
}

// MoveBy translates a node's canvas position (node drag). Missing ids are
// ignored.
func (s *Store) MoveBy(id string, dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Position.X += dx
	n.Position.Y += dy
	s.nodes[id] = n
}

// DeleteSubtree removes rootID and all of its descendants, along with every
// connection touching a removed node. Traversal is iterative; deep trees must
// not hit stack limits. Clears the selection if it was removed.
func (s *Store) DeleteSubtree(rootID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[rootID]; !ok {
		return
	}

	doomed := map[string]bool{}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if doomed[id] {
			continue
		}
		doomed[id] = true
		for _, cid := range s.order {
			if n, ok := s.nodes[cid]; ok && n.ParentID == id {
				stack = append(stack, cid)
			}
		}
	}

	for id := range doomed {
		delete(s.nodes, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !doomed[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept

	conns := s.connections[:0]
	for _, c := range s.connections {
		if !doomed[c.From] && !doomed[c.To] {
			conns = append(conns, c)
		}
	}
	s.connections = conns

	if doomed[s.selected] {
		s.selected = ""
	}
	logging.Tree("subtree deleted root=%s removed=%d", rootID, len(doomed))
}

// Promote reassigns a node's role to seed without altering structure. Future
// generations anchor their identity reference to it. Missing ids are ignored.
func (s *Store) Promote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Kind = KindSeed
	n.Label = LabelSeed
	s.nodes[id] = n
	logging.Tree("node promoted to seed id=%s", id)
}

// Get returns a node by id.
func (s *Store) Get(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Connections returns all connections.
func (s *Store) Connections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, len(s.connections))
	copy(out, s.connections)
	return out
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Select marks a node as selected. Selecting a missing id clears selection.
func (s *Store) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; ok {
		s.selected = id
	} else {
		s.selected = ""
	}
}

// Selected returns the selected node, if any.
func (s *Store) Selected() (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[s.selected]
	return n, ok
}
