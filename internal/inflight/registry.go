package inflight

import (
	"sync"

	"github.com/google/uuid"
)

// Token identifies one holder of a rule. Releasing a stale token is a no-op.
type Token struct {
	RuleID string
	id     string
}

// Registry tracks which rules are currently executing in this process.
type Registry struct {
	mu    sync.Mutex
	items map[string]string
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]string)}
}

// Acquire marks ruleID in flight. It returns false if it already is.
func (r *Registry) Acquire(ruleID string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[ruleID]; ok {
		return Token{}, false
	}
	tok := Token{RuleID: ruleID, id: uuid.NewString()}
	r.items[ruleID] = tok.id
	return tok, true
}

func (r *Registry) Release(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.items[tok.RuleID]; ok && current == tok.id {
		delete(r.items, tok.RuleID)
	}
}

func (r *Registry) Held(ruleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[ruleID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
