package account

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a money balance would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientStocks is returned when a stock balance would go negative.
	ErrInsufficientStocks = errors.New("insufficient stocks")
)

// Default balances for a freshly created trader.
const (
	DefaultMoney  int64 = 100
	DefaultStocks int64 = 10
)

// ID identifies a trader for the lifetime of a session.
type ID uint64

// Account is a trader's ledger: cash (money) and inventory (stocks).
//
// Both balances are non-negative at all times. The public setters reject
// negative values; during a trade the exchange mutates balances only through
// Transfer, which checks affordability first.
type Account struct {
	id ID

	mu     sync.RWMutex
	money  int64
	stocks int64
}

// New creates an account with the given starting balances.
func New(id ID, money, stocks int64) (*Account, error) {
	a := &Account{id: id}
	if err := a.setMoneyLocked(money); err != nil {
		return nil, fmt.Errorf("new account %d: %w", id, err)
	}
	if err := a.setStocksLocked(stocks); err != nil {
		return nil, fmt.Errorf("new account %d: %w", id, err)
	}
	return a, nil
}

func (a *Account) ID() ID { return a.id }

func (a *Account) Money() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.money
}

func (a *Account) Stocks() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stocks
}

// Balances returns money and stocks read under a single lock.
func (a *Account) Balances() (money, stocks int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.money, a.stocks
}

// SetMoney assigns the money balance. Negative values are rejected with
// ErrInsufficientFunds and leave the balance unchanged.
func (a *Account) SetMoney(v int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setMoneyLocked(v)
}

// SetStocks assigns the stock balance. Negative values are rejected with
// ErrInsufficientStocks and leave the balance unchanged.
func (a *Account) SetStocks(v int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setStocksLocked(v)
}

// HasEnoughMoney returns nil if the account holds at least v money.
func (a *Account) HasEnoughMoney(v int64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkMoneyLocked(v)
}

// HasEnoughStocks returns nil if the account holds at least v stocks.
func (a *Account) HasEnoughStocks(v int64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkStocksLocked(v)
}

// Validate checks account invariants
func (a *Account) Validate() error {
	money, stocks := a.Balances()
	if money < 0 {
		return fmt.Errorf("account %d: negative money: %d", a.id, money)
	}
	if stocks < 0 {
		return fmt.Errorf("account %d: negative stocks: %d", a.id, stocks)
	}
	return nil
}

func (a *Account) String() string {
	money, stocks := a.Balances()
	return fmt.Sprintf("trader %d (money=%d, stocks=%d)", a.id, money, stocks)
}

func (a *Account) setMoneyLocked(v int64) error {
	if v < 0 {
		return fmt.Errorf("account %d: money %d: %w", a.id, v, ErrInsufficientFunds)
	}
	a.money = v
	return nil
}

func (a *Account) setStocksLocked(v int64) error {
	if v < 0 {
		return fmt.Errorf("account %d: stocks %d: %w", a.id, v, ErrInsufficientStocks)
	}
	a.stocks = v
	return nil
}

func (a *Account) checkMoneyLocked(v int64) error {
	if a.money < v {
		return fmt.Errorf("account %d: have %d money, need %d: %w", a.id, a.money, v, ErrInsufficientFunds)
	}
	return nil
}

func (a *Account) checkStocksLocked(v int64) error {
	if a.stocks < v {
		return fmt.Errorf("account %d: have %d stocks, need %d: %w", a.id, a.stocks, v, ErrInsufficientStocks)
	}
	return nil
}
