package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the ledger to use any backend (in-memory or persistent) while the
// state trie shares the same underlying store through TrieDB.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kv     *memorydb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	return &MemDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

func (db *MemDB) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

// TrieDB exposes the trie node database layered over the in-memory store.
func (db *MemDB) TrieDB() *triedb.Database { return db.trieDB }

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.trieDB.Close()
	_ = db.kv.Close()
}

// --- Persistent DB ---

// LevelOptions tunes the LevelDB handle. Zero values fall back to the
// goleveldb defaults.
type LevelOptions struct {
	CacheMB      int
	OpenFiles    int
	ReadOnly     bool
	NoSync       bool
	CompactionMB int
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelOptions{})
}

// NewLevelDBWithOptions opens the database applying the supplied tuning knobs.
func NewLevelDBWithOptions(path string, o LevelOptions) (*LevelDB, error) {
	kv, err := gethleveldb.NewCustom(path, "", func(options *opt.Options) {
		if o.CacheMB > 0 {
			options.BlockCacheCapacity = o.CacheMB * opt.MiB
		}
		if o.OpenFiles > 0 {
			options.OpenFilesCacheCapacity = o.OpenFiles
		}
		if o.CompactionMB > 0 {
			options.CompactionTableSize = o.CompactionMB * opt.MiB
		}
		options.ReadOnly = o.ReadOnly
		options.NoSync = o.NoSync
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.kv.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.kv.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.kv.Has(key)
}

// TrieDB exposes the trie node database sharing the LevelDB handle.
func (ldb *LevelDB) TrieDB() *triedb.Database { return ldb.trieDB }

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.kv.Close()
}
