package strata

import (
	"log/slog"
	"sync"

	"github.com/roach88/strata/record"
)

// MergePolicy controls how a live context reacts to commits made by
// other contexts in the same stack.
type MergePolicy int

const (
	// AutoMerge refreshes each listening context's cached records on
	// that context's own lane as commits land. Records with local
	// pending changes keep the local version.
	AutoMerge MergePolicy = iota
	// ManualReload only marks affected cached records stale; the
	// application refreshes them explicitly with Context.Reload.
	ManualReload
)

func (p MergePolicy) String() string {
	switch p {
	case AutoMerge:
		return "auto-merge"
	case ManualReload:
		return "manual-reload"
	default:
		return "unknown"
	}
}

// broadcaster fans committed change sets out to every live context in
// the stack except the committer and root (root is refreshed inline on
// the save path).
type broadcaster struct {
	logger *slog.Logger
	policy MergePolicy

	mu       sync.Mutex
	contexts map[*Context]struct{}
}

func newBroadcaster(logger *slog.Logger, policy MergePolicy) *broadcaster {
	return &broadcaster{
		logger:   logger,
		policy:   policy,
		contexts: make(map[*Context]struct{}),
	}
}

func (b *broadcaster) register(c *Context) {
	b.mu.Lock()
	b.contexts[c] = struct{}{}
	b.mu.Unlock()
}

func (b *broadcaster) unregister(c *Context) {
	b.mu.Lock()
	delete(b.contexts, c)
	b.mu.Unlock()
}

// publish delivers a committed change set to every registered context
// except source. Under AutoMerge the refresh runs as a work item on the
// listener's lane, so it is serialized with the listener's own work;
// under ManualReload the affected IDs are only marked stale.
func (b *broadcaster) publish(source *Context, applied record.ChangeSet) {
	b.mu.Lock()
	targets := make([]*Context, 0, len(b.contexts))
	for c := range b.contexts {
		if c == source {
			continue
		}
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		switch b.policy {
		case ManualReload:
			c.markStale(applied)
		default:
			cs := applied.Clone()
			if err := c.lane.perform(func() { c.applyMerge(cs) }); err != nil {
				// The listener resolved between snapshot and delivery.
				b.logger.Debug("merge skipped", "context", c.role.String(), "error", err)
			}
		}
	}
	b.logger.Debug("commit broadcast",
		"source", source.role.String(), "changes", len(applied), "listeners", len(targets))
}
