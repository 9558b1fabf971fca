package bank

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"jobledger/core/types"
	"jobledger/native/common"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = fmt.Errorf("bank: %w", common.ErrInsufficientFunds)
	// ErrInvalidAmount marks nil, zero or negative transfer amounts.
	ErrInvalidAmount = fmt.Errorf("bank: %w: amount must be positive", common.ErrValidation)
)

type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// ModuleAddress derives the custody address of a native module. No private key
// exists for it, so only the module's own engine moves funds out.
func ModuleAddress(module string) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("jobledger/module/"+module))[12:])
	return addr
}

// Ledger moves native currency between accounts.
type Ledger struct {
	st accountState
}

// NewLedger returns a ledger over the provided account state.
func NewLedger(st accountState) *Ledger {
	return &Ledger{st: st}
}

// Balance returns a copy of the balance held by addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	acc, err := l.st.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Ensure().Balance), nil
}

// Credit mints amount into addr. Only genesis allocation and tests use it;
// engines always move funds with Transfer.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := l.st.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.Ensure()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.st.PutAccount(addr[:], acc)
}

// Transfer moves amount from one account to another. Both accounts are read
// before either is written so a failed check leaves no partial update.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return nil
	}
	fromAcc, err := l.st.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := l.st.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Ensure()
	toAcc = toAcc.Ensure()
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromAcc.Balance, amount)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.st.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return l.st.PutAccount(to[:], toAcc)
}
