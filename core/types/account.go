package types

import "math/big"

// Account holds the spendable balances of a marketplace participant. The
// native balance lives on the account record itself; per-token balances are
// stored under separate state keys.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// Clone returns a deep copy with a non-nil balance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
