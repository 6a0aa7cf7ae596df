// Package store provides oracle.Store implementations: a key/value store on
// cometbft-db and a SQL store on gorm.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
	cmtlog "github.com/cometbft/cometbft/libs/log"

	"commit-reveal-oracle/internal/ledger"
	"commit-reveal-oracle/internal/oracle"
)

var errReadOnly = errors.New("write in read-only transaction")

// Key layout:
//
//	round/<round>             JSON oracle.Round
//	node/<node>               JSON oracle.Node
//	round-node/<round>/<node> empty, secondary index for ListNodes
//	bal/<account>             uint64 big endian
const (
	prefixRound     = "round/"
	prefixNode      = "node/"
	prefixRoundNode = "round-node/"
	prefixBalance   = "bal/"
)

func roundKey(id oracle.Address) []byte { return []byte(prefixRound + id.String()) }

func nodeKey(id oracle.Address) []byte { return []byte(prefixNode + id.String()) }

func roundNodePrefix(round oracle.Address) []byte {
	return []byte(prefixRoundNode + round.String() + "/")
}

func roundNodeKey(round, node oracle.Address) []byte {
	return append(roundNodePrefix(round), node.String()...)
}

func balanceKey(acct ledger.Account) []byte { return []byte(prefixBalance + acct.String()) }

// KV is an oracle.Store backed by a cometbft-db database. Writes of a
// transaction are buffered and flushed as a single synced batch.
type KV struct {
	mu     sync.RWMutex
	db     dbm.DB
	logger cmtlog.Logger
}

// NewKV wraps an open database. The caller keeps ownership of db unless it
// closes the store.
func NewKV(db dbm.DB, logger cmtlog.Logger) *KV {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &KV{db: db, logger: logger.With("module", "store", "backend", "kv")}
}

// OpenKV opens (or creates) the "oracle" database with the given cometbft-db
// backend under dir. memdb ignores dir.
func OpenKV(backend, dir string, logger cmtlog.Logger) (*KV, error) {
	if backend == "" {
		backend = string(dbm.MemDBBackend)
	}
	db, err := dbm.NewDB("oracle", dbm.BackendType(backend), dir)
	if err != nil {
		return nil, fmt.Errorf("open %s store in %s: %w", backend, dir, err)
	}
	return NewKV(db, logger), nil
}

func (s *KV) Close() error { return s.db.Close() }

func (s *KV) Update(ctx context.Context, fn func(tx oracle.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &kvTx{db: s.db, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		s.logger.Error("commit batch", "writes", len(tx.writes), "err", err)
		return err
	}
	s.logger.Debug("committed", "writes", len(tx.writes))
	return nil
}

func (s *KV) View(ctx context.Context, fn func(tx oracle.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&kvTx{db: s.db, readOnly: true})
}

// kvTx overlays buffered writes on the database. A nil value in writes is a
// pending delete.
type kvTx struct {
	db       dbm.DB
	writes   map[string][]byte
	readOnly bool
}

func (tx *kvTx) get(key []byte) ([]byte, error) {
	if v, ok := tx.writes[string(key)]; ok {
		return v, nil
	}
	return tx.db.Get(key)
}

func (tx *kvTx) set(key, value []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	tx.writes[string(key)] = value
	return nil
}

func (tx *kvTx) delete(key []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.writes[string(key)] = nil
	return nil
}

func (tx *kvTx) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}
	batch := tx.db.NewBatch()
	defer batch.Close()
	for k, v := range tx.writes {
		var err error
		if v == nil {
			err = batch.Delete([]byte(k))
		} else {
			err = batch.Set([]byte(k), v)
		}
		if err != nil {
			return fmt.Errorf("batch %q: %w", k, err)
		}
	}
	return batch.WriteSync()
}

// scan returns the keys under prefix, merged with pending writes, in order.
func (tx *kvTx) scan(prefix []byte) ([]string, error) {
	keys := make(map[string]struct{})
	it, err := tx.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	for ; it.Valid(); it.Next() {
		keys[string(it.Key())] = struct{}{}
	}
	if err := it.Error(); err != nil {
		it.Close()
		return nil, err
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	p := string(prefix)
	for k, v := range tx.writes {
		if len(k) < len(p) || k[:len(p)] != p {
			continue
		}
		if v == nil {
			delete(keys, k)
		} else {
			keys[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// prefixEnd returns the smallest key greater than every key with prefix, or
// nil when the prefix is all 0xff.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (tx *kvTx) Balance(acct ledger.Account) (uint64, error) {
	bz, err := tx.get(balanceKey(acct))
	if err != nil {
		return 0, err
	}
	if len(bz) == 0 {
		return 0, nil
	}
	if len(bz) != 8 {
		return 0, fmt.Errorf("balance %s: corrupt value of %d bytes", acct, len(bz))
	}
	return binary.BigEndian.Uint64(bz), nil
}

func (tx *kvTx) SetBalance(acct ledger.Account, amount uint64) error {
	if amount == 0 {
		return tx.delete(balanceKey(acct))
	}
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, amount)
	return tx.set(balanceKey(acct), bz)
}

func (tx *kvTx) GetRound(id oracle.Address) (*oracle.Round, error) {
	var r oracle.Round
	if err := tx.getJSON(roundKey(id), &r); err != nil {
		if errors.Is(err, errMissing) {
			return nil, oracle.ErrRoundNotFound
		}
		return nil, fmt.Errorf("round %s: %w", id, err)
	}
	return &r, nil
}

func (tx *kvTx) PutRound(r *oracle.Round) error {
	stored, err := tx.GetRound(r.ID)
	switch {
	case errors.Is(err, oracle.ErrRoundNotFound):
		stored = nil
	case err != nil:
		return err
	}
	var version uint64
	if stored != nil {
		version = stored.Version
	}
	if err := checkVersion(stored != nil, version, r.Version); err != nil {
		return fmt.Errorf("round %s: %w", r.ID, err)
	}
	r.Version++
	return tx.setJSON(roundKey(r.ID), r)
}

func (tx *kvTx) GetNode(id oracle.Address) (*oracle.Node, error) {
	var n oracle.Node
	if err := tx.getJSON(nodeKey(id), &n); err != nil {
		if errors.Is(err, errMissing) {
			return nil, oracle.ErrNodeNotFound
		}
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return &n, nil
}

func (tx *kvTx) PutNode(n *oracle.Node) error {
	stored, err := tx.GetNode(n.ID)
	switch {
	case errors.Is(err, oracle.ErrNodeNotFound):
		stored = nil
	case err != nil:
		return err
	}
	var version uint64
	if stored != nil {
		version = stored.Version
	}
	if err := checkVersion(stored != nil, version, n.Version); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	if stored == nil {
		if err := tx.set(roundNodeKey(n.Round, n.ID), nil); err != nil {
			return err
		}
	}
	n.Version++
	return tx.setJSON(nodeKey(n.ID), n)
}

func (tx *kvTx) ListNodes(round oracle.Address) ([]*oracle.Node, error) {
	prefix := roundNodePrefix(round)
	keys, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	nodes := make([]*oracle.Node, 0, len(keys))
	for _, k := range keys {
		id, err := oracle.ParseAddress(k[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("index key %q: %w", k, err)
		}
		n, err := tx.GetNode(id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

var errMissing = errors.New("missing key")

func (tx *kvTx) getJSON(key []byte, v any) error {
	bz, err := tx.get(key)
	if err != nil {
		return err
	}
	if bz == nil {
		return errMissing
	}
	return json.Unmarshal(bz, v)
}

func (tx *kvTx) setJSON(key []byte, v any) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.set(key, bz)
}

// checkVersion implements the optimistic concurrency rule shared by both
// stores: creates carry version 0 and must not find a record, updates must
// carry the stored version.
func checkVersion(exists bool, stored, given uint64) error {
	if !exists {
		if given != 0 {
			return fmt.Errorf("update of missing record at version %d: %w", given, oracle.ErrConflict)
		}
		return nil
	}
	if given != stored {
		return fmt.Errorf("version %d, stored %d: %w", given, stored, oracle.ErrConflict)
	}
	return nil
}
