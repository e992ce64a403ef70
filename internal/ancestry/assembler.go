// Package ancestry produces the two forms of memory every generation request
// needs: the root identity reference and the chronological history narrative,
// both assembled by walking parent links in the lineage tree.
package ancestry

import (
	"fmt"
	"strings"

	"flora/internal/tree"
)

// Ancestry walks are capped as a defensive bound against accidental cycles
// or runaway chains. Hitting the cap degrades gracefully: the walk returns
// whatever partial root/history it found, never an error.
const (
	rootWalkDepth    = 20
	historyWalkDepth = 25
)

// Assembler reads the lineage tree to build generation context.
type Assembler struct {
	store *tree.Store
}

// New creates an assembler over the given store.
func New(store *tree.Store) *Assembler {
	return &Assembler{store: store}
}

// RootReferenceImage walks parent links upward from nodeID until it reaches a
// seed node and returns that node's image. Deep-in-the-tree transformations
// anchor facial and clothing identity to the original seed rather than
// drifting through repeated generations.
//
// Returns ok=false if no seed is reachable within the depth bound.
func (a *Assembler) RootReferenceImage(nodeID string) (string, bool) {
	current, ok := a.store.Get(nodeID)
	if !ok {
		return "", false
	}
	for depth := 0; depth <= rootWalkDepth; depth++ {
		if current.Kind == tree.KindSeed {
			return current.ImageURL, true
		}
		if current.ParentID == "" {
			return "", false
		}
		parent, ok := a.store.Get(current.ParentID)
		if !ok {
			return "", false
		}
		current = parent
	}
	return "", false
}

// HistoryNarrative renders the chain of transformations from the seed down
// to nodeID, one line per step in chronological order. The seed step is a
// root declaration of its prompt; every later step is an indexed action with
// its intent and prompt. The text is injected into generation instructions
// so the provider knows what changed at each prior step and preserves
// unrelated attributes.
func (a *Assembler) HistoryNarrative(nodeID string) string {
	var chain []tree.Node
	current, ok := a.store.Get(nodeID)
	if !ok {
		return ""
	}
	for depth := 0; depth < historyWalkDepth; depth++ {
		chain = append(chain, current)
		if current.Kind == tree.KindSeed || current.ParentID == "" {
			break
		}
		parent, ok := a.store.Get(current.ParentID)
		if !ok {
			break
		}
		current = parent
	}

	// Reverse into chronological order: seed first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	lines := make([]string, 0, len(chain))
	for i, n := range chain {
		if n.Kind == tree.KindSeed {
			lines = append(lines, fmt.Sprintf("[START] ROOT SEED: %q", n.Prompt))
			continue
		}
		intent := n.Meta.Intent
		if intent == "" {
			intent = "Variation"
		}
		lines = append(lines, fmt.Sprintf("[STEP %d] Action: %s -> %q", i, intent, n.Prompt))
	}
	return strings.Join(lines, "\n")
}
