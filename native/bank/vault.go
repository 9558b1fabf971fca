package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"jobledger/native/common"
)

var (
	// ErrVaultOverflow is returned when an amount does not fit in 256 bits.
	ErrVaultOverflow = fmt.Errorf("bank: %w: amount overflows vault", common.ErrValidation)
	// ErrVaultEmpty is returned when draining a vault that holds nothing.
	ErrVaultEmpty = fmt.Errorf("bank: %w: vault already drained", common.ErrInvalidState)

	errVaultShort = errors.New("bank: vault balance too low")
)

// Vault is the owned balance held by an escrow or a stake position. The value
// is private: it can grow through Deposit and shrink only through Withdraw or
// Drain, each returning exactly the amount that left the vault.
type Vault struct {
	amount uint256.Int
}

// OpenVault wraps a stored balance. Negative or oversized amounts are rejected.
func OpenVault(stored *big.Int) (*Vault, error) {
	v := &Vault{}
	if stored == nil {
		return v, nil
	}
	if stored.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative vault balance", common.ErrValidation)
	}
	if overflow := v.amount.SetFromBig(stored); overflow {
		return nil, ErrVaultOverflow
	}
	return v, nil
}

// Amount returns a copy of the current balance.
func (v *Vault) Amount() *big.Int {
	return v.amount.ToBig()
}

// IsZero reports whether the vault is empty.
func (v *Vault) IsZero() bool {
	return v.amount.IsZero()
}

// Deposit adds amount to the vault.
func (v *Vault) Deposit(amount *big.Int) error {
	delta, err := toU256(amount)
	if err != nil {
		return err
	}
	if _, overflow := v.amount.AddOverflow(&v.amount, delta); overflow {
		return ErrVaultOverflow
	}
	return nil
}

// Withdraw removes amount from the vault and returns it. The vault is left
// untouched on error.
func (v *Vault) Withdraw(amount *big.Int) (*big.Int, error) {
	delta, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	if v.amount.Lt(delta) {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientBalance, errVaultShort)
	}
	v.amount.Sub(&v.amount, delta)
	return delta.ToBig(), nil
}

// Drain empties the vault and returns everything it held.
func (v *Vault) Drain() (*big.Int, error) {
	if v.amount.IsZero() {
		return nil, ErrVaultEmpty
	}
	out := v.amount.ToBig()
	v.amount.Clear()
	return out, nil
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrVaultOverflow
	}
	return out, nil
}
