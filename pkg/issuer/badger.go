package issuer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	pbadger "github.com/Layr-Labs/payword-channels-go/pkg/persistence/badger"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	keyPrefixChain = "hashchain:"

	maxConflictRetries = 32
)

// BadgerStore persists chain records, secrets included, in a local Badger
// database. Updates use optimistic transactions and retry on conflict.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ Store = (*BadgerStore)(nil)

func NewBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	db, err := pbadger.OpenDB(absPath, logger)
	if err != nil {
		return nil, err
	}

	s := &BadgerStore{db: db, logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	s.gcWg.Add(1)
	go pbadger.RunGC(ctx, &s.gcWg, db, logger)

	logger.Sugar().Infow("Issuer store opened", "path", absPath)
	return s, nil
}

func chainKey(id string) []byte {
	return []byte(keyPrefixChain + id)
}

func (s *BadgerStore) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func readRecord(txn *badgerdb.Txn, id string) (*Record, error) {
	item, err := txn.Get(chainKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode hash chain %s: %w", id, err)
	}
	return &rec, nil
}

func writeRecord(txn *badgerdb.Txn, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode hash chain %s: %w", rec.ID, err)
	}
	return txn.Set(chainKey(rec.ID), data)
}

func (s *BadgerStore) Create(_ context.Context, rec *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(chainKey(rec.ID)); err == nil {
			return errors.Errorf("hash chain %s already exists", rec.ID)
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return writeRecord(txn, rec)
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	})
	return rec, err
}

func (s *BadgerStore) Update(ctx context.Context, id string, fn func(rec *Record) error) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var updated *Record
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			rec, err := readRecord(txn, id)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
			updated = rec
			return writeRecord(txn, rec)
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("hash chain %s: %w after %d attempts", id, badgerdb.ErrConflict, maxConflictRetries)
}

func (s *BadgerStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []*Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixChain)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(chainKey(id)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrChainNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(chainKey(id))
	})
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.gcCancel()
	s.gcWg.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close issuer store: %w", err)
	}
	return nil
}
