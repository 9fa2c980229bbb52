package strata

import (
	"log/slog"
	"sync"
	"time"
)

// SerializationGate globally serializes store saves. Individual saves
// are already atomic; the gate additionally guarantees that at most one
// context is inside its save path at a time, which turns write-write
// races between independent transactions from conflict errors into
// waiting.
//
// Enabled per stack with WithSerializedSaves. When disabled the gate is
// nil and acquire/release are no-ops.
type SerializationGate struct {
	logger *slog.Logger
	mu     sync.Mutex
}

func newSerializationGate(logger *slog.Logger) *SerializationGate {
	return &SerializationGate{logger: logger}
}

func (g *SerializationGate) acquire() {
	if g == nil {
		return
	}
	start := time.Now()
	g.mu.Lock()
	if waited := time.Since(start); waited > 100*time.Millisecond {
		g.logger.Debug("save gate contention", "waited", waited)
	}
}

func (g *SerializationGate) release() {
	if g == nil {
		return
	}
	g.mu.Unlock()
}
