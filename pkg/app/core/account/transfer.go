package account

import "fmt"

// Transfer settles one trade: stocks move from seller to buyer and money
// moves from buyer to seller.
//
// The buyer's funds are checked before the seller's inventory. On a shortfall
// Transfer returns an error wrapping ErrInsufficientFunds or
// ErrInsufficientStocks and neither ledger changes. On success all four legs
// are applied while both accounts are locked, so readers never observe a
// half-applied trade. Buyer and seller may be the same account.
func Transfer(buyer, seller *Account, stocks, money int64) error {
	if stocks < 0 || money < 0 {
		panic(fmt.Sprintf("account: negative transfer (stocks=%d, money=%d)", stocks, money))
	}

	unlock := lockPair(buyer, seller)
	defer unlock()

	if err := buyer.checkMoneyLocked(money); err != nil {
		return err
	}
	if err := seller.checkStocksLocked(stocks); err != nil {
		return err
	}

	mustApply(buyer.setMoneyLocked(buyer.money - money))
	mustApply(seller.setMoneyLocked(seller.money + money))
	mustApply(seller.setStocksLocked(seller.stocks - stocks))
	mustApply(buyer.setStocksLocked(buyer.stocks + stocks))
	return nil
}

// mustApply turns a rejected assignment after a successful check into a panic:
// it can only happen if the ledger invariant was already broken.
func mustApply(err error) {
	if err != nil {
		panic(fmt.Errorf("account invariant violated: %w", err))
	}
}

// lockPair write-locks both accounts in id order and returns the unlock func.
func lockPair(a, b *Account) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
