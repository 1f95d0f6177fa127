package account

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/sequence"
)

// Registry creates and tracks the accounts of one session.
// Account ids come from the injected generator.
type Registry struct {
	mu       sync.RWMutex
	ids      sequence.Generator
	accounts map[ID]*Account
	order    []*Account
}

// NewRegistry creates an empty registry. A nil generator gets a fresh
// sequencer starting at 1.
func NewRegistry(ids sequence.Generator) *Registry {
	if ids == nil {
		ids = sequence.New(0)
	}
	return &Registry{
		ids:      ids,
		accounts: make(map[ID]*Account),
	}
}

// Create opens a new account with the given balances.
func (r *Registry) Create(money, stocks int64) (*Account, error) {
	acc, err := New(ID(r.ids.Next()), money, stocks)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[acc.ID()]; exists {
		return nil, fmt.Errorf("account %d already registered", acc.ID())
	}
	r.accounts[acc.ID()] = acc
	r.order = append(r.order, acc)
	return acc, nil
}

// CreateDefault opens an account with DefaultMoney and DefaultStocks.
func (r *Registry) CreateDefault() (*Account, error) {
	return r.Create(DefaultMoney, DefaultStocks)
}

func (r *Registry) Get(id ID) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

// List returns all accounts in creation order.
func (r *Registry) List() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Totals sums money and stocks over every account.
func (r *Registry) Totals() (money, stocks int64) {
	for _, acc := range r.List() {
		m, s := acc.Balances()
		money += m
		stocks += s
	}
	return money, stocks
}
