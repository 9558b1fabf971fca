package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"jobledger/core/types"
)

var accountPrefix = []byte("account:")

func accountStateKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// GetAccount loads the account stored for addr. Unknown accounts are returned
// with a zero balance.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, account); err != nil {
			return nil, err
		}
	}
	return account.Ensure(), nil
}

// PutAccount stores account for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	account = account.Ensure()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return err
	}
	return m.trie.Update(accountStateKey(addr), encoded)
}

// Balance returns the native balance for addr.
func (m *Manager) Balance(addr []byte) (*big.Int, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}
