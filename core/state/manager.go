package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"jobledger/storage"
	"jobledger/storage/trie"
)

var (
	// ErrTxActive is returned when Begin is called while a transaction is open.
	ErrTxActive = errors.New("state: transaction already open")
	// ErrNoTx is returned by Commit/Discard without a matching Begin.
	ErrNoTx = errors.New("state: no open transaction")

	headKey = []byte("jobledger/head")
)

// Manager reads and writes ledger records on top of the Merkle state trie.
//
// Every mutation happens inside a transaction: Begin marks the committed root,
// Commit persists the trie and advances the sequence, Discard resets the trie
// to the committed root so none of the writes survive.
type Manager struct {
	trie     *trie.Trie
	sequence uint64
	inTx     bool
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

type head struct {
	Root     common.Hash
	Sequence uint64
}

// Open restores the manager from the head recorded in db, or starts from the
// empty trie when db is fresh.
func Open(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	var h head
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("state: decode head: %w", err)
		}
	}
	var root []byte
	if h.Root != (common.Hash{}) {
		root = h.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, err
	}
	return &Manager{trie: tr, sequence: h.Sequence}, nil
}

// Begin opens a transaction.
func (m *Manager) Begin() error {
	if m.inTx {
		return ErrTxActive
	}
	if m.trie.Dirty() {
		if err := m.trie.Reset(m.trie.Root()); err != nil {
			return err
		}
	}
	m.inTx = true
	return nil
}

// Commit persists every write made since Begin and returns the new root.
func (m *Manager) Commit() (common.Hash, error) {
	if !m.inTx {
		return common.Hash{}, ErrNoTx
	}
	m.inTx = false
	next := m.sequence + 1
	root, err := m.trie.Commit(next)
	if err != nil {
		_ = m.trie.Reset(m.trie.Root())
		return common.Hash{}, err
	}
	m.sequence = next
	encoded, err := rlp.EncodeToBytes(&head{Root: root, Sequence: next})
	if err != nil {
		return common.Hash{}, err
	}
	if err := m.trie.Store().Put(headKey, encoded); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}

// Discard drops every write made since Begin.
func (m *Manager) Discard() error {
	if !m.inTx {
		return ErrNoTx
	}
	m.inTx = false
	return m.trie.Reset(m.trie.Root())
}

// InTx reports whether a transaction is open.
func (m *Manager) InTx() bool { return m.inTx }

// Root returns the last committed state root.
func (m *Manager) Root() common.Hash { return m.trie.Root() }

// Sequence returns the number of committed transactions.
func (m *Manager) Sequence() uint64 { return m.sequence }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	list, err := m.loadList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.storeList(key, list)
}

// KVRemove deletes value from the list stored under key, preserving the order
// of the remaining entries. Removing an absent value is a no-op.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	list, err := m.loadList(key)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			out = append(out, existing)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	if len(out) == 0 {
		return m.trie.Delete(kvKey(key))
	}
	return m.storeList(key, out)
}

// KVGetList decodes the list stored under key into out, which must be a
// pointer to a slice. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// KVIncrement increments the counter stored under key and returns the value
// before the increment.
func (m *Manager) KVIncrement(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	if err := m.KVPut(key, current+1); err != nil {
		return 0, err
	}
	return current, nil
}

func (m *Manager) loadList(key []byte) ([][]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return nil, err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (m *Manager) storeList(key []byte, list [][]byte) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// Uint64Key renders v as a fixed-width big-endian suffix for list values.
func Uint64Key(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
