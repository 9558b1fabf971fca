package types

import "math/big"

// Account holds the native currency balance of a participant or module vault.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Ensure returns an account with a non-nil balance.
func (a *Account) Ensure() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
