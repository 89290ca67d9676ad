package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore implements Store on an embedded LevelDB database. Updates use
// LevelDB transactions, of which only one may be open at a time, so
// writers are serialized by the database itself. Views read a snapshot.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens or creates a database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// NewMemLevelStore returns a LevelStore backed by in-memory storage.
func NewMemLevelStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Update(ctx context.Context, fn func(Tx) error) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("leveldb begin: %w", err)
	}
	if err := fn(&kvTx{ctx: ctx, kv: levelTx{tr: tr}}); err != nil {
		tr.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("leveldb commit: %w", err)
	}
	return nil
}

func (s *LevelStore) View(ctx context.Context, fn func(Tx) error) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb snapshot: %w", err)
	}
	defer snap.Release()
	return fn(&kvTx{ctx: ctx, kv: levelSnap{snap: snap}, readOnly: true})
}

func (s *LevelStore) Close() error { return s.db.Close() }

type levelTx struct{ tr *leveldb.Transaction }

func (l levelTx) get(key string) ([]byte, bool, error) {
	return levelGet(l.tr.Get([]byte(key), nil))
}

func (l levelTx) put(key string, val []byte) error {
	return l.tr.Put([]byte(key), val, nil)
}

func (l levelTx) scan(prefix, start string, fn func(string, []byte) error) error {
	return levelScan(l.tr.NewIterator(scanRange(prefix, start), nil), fn)
}

type levelSnap struct{ snap *leveldb.Snapshot }

func (l levelSnap) get(key string) ([]byte, bool, error) {
	return levelGet(l.snap.Get([]byte(key), nil))
}

func (l levelSnap) put(string, []byte) error { return ErrReadOnly }

func (l levelSnap) scan(prefix, start string, fn func(string, []byte) error) error {
	return levelScan(l.snap.NewIterator(scanRange(prefix, start), nil), fn)
}

func levelGet(val []byte, err error) ([]byte, bool, error) {
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func scanRange(prefix, start string) *util.Range {
	r := util.BytesPrefix([]byte(prefix))
	if start > prefix {
		r.Start = []byte(start)
	}
	return r
}

func levelScan(it iterator.Iterator, fn func(string, []byte) error) error {
	defer it.Release()
	for it.Next() {
		val := append([]byte(nil), it.Value()...)
		if err := fn(string(it.Key()), val); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return it.Error()
}
