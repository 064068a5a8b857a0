package engine

import (
	"fmt"
	"io"
	"sync"
)

// treeTracker registers every materialized working tree so the run's
// deferred sweep can release them all, whichever path the run exits on.
// Release on a tree is idempotent, so sweeping a tree some earlier step
// already released is harmless.
type treeTracker struct {
	mu    sync.Mutex
	trees []WorkTree
}

func (t *treeTracker) track(tree WorkTree) {
	if tree == nil {
		return
	}
	t.mu.Lock()
	t.trees = append(t.trees, tree)
	t.mu.Unlock()
}

func (t *treeTracker) sweep(log io.Writer) {
	t.mu.Lock()
	trees := t.trees
	t.trees = nil
	t.mu.Unlock()

	for _, tree := range trees {
		if err := tree.Release(); err != nil {
			fmt.Fprintf(log, "warning: releasing working tree %s: %v\n", tree.Root(), err)
		}
	}
}
