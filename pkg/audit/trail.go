package audit

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Trail records every financial mutation as a hash-chained entry and
// keeps a bounded in-memory window for inspection. Ledger and commission
// services write to it; the API exposes the window read-only.
type Trail struct {
	chain *ChainLogger

	mu      sync.Mutex
	entries []*LogEntry
	limit   int
}

// NewTrail creates a Trail retaining at most limit entries; limit <= 0
// means 1000.
func NewTrail(limit int) *Trail {
	if limit <= 0 {
		limit = 1000
	}
	return &Trail{
		chain: NewChainLogger(),
		limit: limit,
	}
}

// Record appends one action to the chain. details must be JSON-encodable;
// anything else is recorded by its fmt representation.
func (t *Trail) Record(action string, details map[string]any) {
	payload := map[string]any{"action": action}
	for k, v := range details {
		payload[k] = v
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"action":%q,"encode_error":%q}`, action, err.Error()))
	}

	entry := t.chain.Append(string(encoded))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.limit {
		t.entries = t.entries[len(t.entries)-t.limit:]
	}
}

// Entries returns a copy of the retained window, oldest first.
func (t *Trail) Entries() []*LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*LogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Verify checks the retained window still forms a valid chain.
func (t *Trail) Verify() bool {
	return VerifyChain(t.Entries())
}
