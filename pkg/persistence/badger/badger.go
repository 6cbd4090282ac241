package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixVendor        = "vendor:"
	keyPrefixVendorAddress = "vendor_addr:"
	keyPrefixChannel       = "channel:"
	keyPrefixContract      = "contract:"
	keyPrefixPayment       = "payment:"
	keyPrefixHash          = "hash:"
	keySchemaVersion       = "metadata:schema_version"
	currentSchemaVersion   = "v1"

	// metadata updates that lose a transaction race are retried this many times
	maxConflictRetries = 5
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees. Payment appends
// rely on Badger's optimistic transactions: two appends that read the same
// channel record cannot both commit.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	db, err := OpenDB(absPath, logger)
	if err != nil {
		return nil, err
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go RunGC(ctx, &bp.gcWg, db, logger)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// OpenDB opens a Badger database configured for durable single-node use.
func OpenDB(absPath string, logger *zap.Logger) (*badgerdb.DB, error) {
	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}
	return db, nil
}

// RunGC runs value log garbage collection every five minutes until ctx is cancelled.
func RunGC(ctx context.Context, wg *sync.WaitGroup, db *badgerdb.DB, logger *zap.Logger) {
	defer wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

func vendorKey(id string) []byte {
	return []byte(keyPrefixVendor + id)
}

func vendorAddressKey(addr common.Address) []byte {
	return []byte(keyPrefixVendorAddress + strings.ToLower(addr.Hex()))
}

func channelKey(id string) []byte {
	return []byte(keyPrefixChannel + id)
}

func contractKey(addr common.Address) []byte {
	return []byte(keyPrefixContract + strings.ToLower(addr.Hex()))
}

func paymentPrefix(channelID string) []byte {
	return []byte(keyPrefixPayment + channelID + ":")
}

// paymentKey zero-pads the index so lexical order is index order.
func paymentKey(channelID string, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", keyPrefixPayment, channelID, index))
}

func hashKey(h common.Hash) []byte {
	return []byte(keyPrefixHash + strings.ToLower(h.Hex()))
}

// get copies the value at key, returning nil when it does not exist.
func get(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func getChannel(txn *badgerdb.Txn, id string) (*types.Channel, error) {
	data, err := get(txn, channelKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalChannel(data)
}

func putChannel(txn *badgerdb.Txn, ch *types.Channel) error {
	data, err := persistence.MarshalChannel(ch)
	if err != nil {
		return err
	}
	return txn.Set(channelKey(ch.ID), data)
}

func (b *BadgerPersistence) readLock() error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return persistence.ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying when Badger reports a conflict.
func (b *BadgerPersistence) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerPersistence) CreateVendor(_ context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	data, err := persistence.MarshalVendor(vendor)
	if err != nil {
		return err
	}
	return b.update(func(txn *badgerdb.Txn) error {
		existing, err := get(txn, vendorAddressKey(vendor.Address))
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrVendorExists
		}
		if err := txn.Set(vendorAddressKey(vendor.Address), []byte(vendor.ID)); err != nil {
			return err
		}
		return txn.Set(vendorKey(vendor.ID), data)
	})
}

func (b *BadgerPersistence) UpdateVendor(_ context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	return b.update(func(txn *badgerdb.Txn) error {
		data, err := get(txn, vendorKey(vendor.ID))
		if err != nil {
			return err
		}
		if data == nil {
			return types.ErrVendorNotFound
		}
		existing, err := persistence.UnmarshalVendor(data)
		if err != nil {
			return err
		}
		updated := vendor.Clone()
		updated.Address = existing.Address
		updated.CreatedAt = existing.CreatedAt
		out, err := persistence.MarshalVendor(updated)
		if err != nil {
			return err
		}
		return txn.Set(vendorKey(vendor.ID), out)
	})
}

func (b *BadgerPersistence) GetVendor(_ context.Context, id string) (*types.Vendor, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = get(txn, vendorKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Vendor: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalVendor(data)
}

func (b *BadgerPersistence) GetVendorByAddress(_ context.Context, address common.Address) (*types.Vendor, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		id, err := get(txn, vendorAddressKey(address))
		if err != nil || id == nil {
			return err
		}
		data, err = get(txn, vendorKey(string(id)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Vendor by address: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalVendor(data)
}

func (b *BadgerPersistence) ListVendors(_ context.Context) ([]*types.Vendor, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	vendors := make([]*types.Vendor, 0)
	err := b.scan([]byte(keyPrefixVendor), false, func(val []byte) (bool, error) {
		v, err := persistence.UnmarshalVendor(val)
		if err != nil {
			return false, err
		}
		vendors = append(vendors, v)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Vendors: %w", err)
	}

	sort.Slice(vendors, func(i, j int) bool {
		return vendors[i].CreatedAt.After(vendors[j].CreatedAt)
	})
	return vendors, nil
}

func (b *BadgerPersistence) DeleteVendor(_ context.Context, id string) error {
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	return b.update(func(txn *badgerdb.Txn) error {
		data, err := get(txn, vendorKey(id))
		if err != nil || data == nil {
			return err
		}
		v, err := persistence.UnmarshalVendor(data)
		if err != nil {
			return err
		}
		if err := txn.Delete(vendorAddressKey(v.Address)); err != nil {
			return err
		}
		return txn.Delete(vendorKey(id))
	})
}

func (b *BadgerPersistence) CreateChannel(_ context.Context, channel *types.Channel) error {
	if channel == nil {
		return fmt.Errorf("cannot save nil Channel")
	}
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	return b.update(func(txn *badgerdb.Txn) error {
		existing, err := get(txn, contractKey(channel.ContractAddress))
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrChannelExists
		}
		if err := txn.Set(contractKey(channel.ContractAddress), []byte(channel.ID)); err != nil {
			return err
		}
		return putChannel(txn, channel)
	})
}

func (b *BadgerPersistence) GetChannel(_ context.Context, id string) (*types.Channel, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var ch *types.Channel
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		ch, err = getChannel(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Channel: %w", err)
	}
	return ch, nil
}

func (b *BadgerPersistence) GetChannelByContract(_ context.Context, contract common.Address) (*types.Channel, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var ch *types.Channel
	err := b.db.View(func(txn *badgerdb.Txn) error {
		id, err := get(txn, contractKey(contract))
		if err != nil || id == nil {
			return err
		}
		ch, err = getChannel(txn, string(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Channel by contract: %w", err)
	}
	return ch, nil
}

func (b *BadgerPersistence) ListChannels(_ context.Context, filter *types.ChannelFilter) ([]*types.Channel, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	channels := make([]*types.Channel, 0)
	err := b.scan([]byte(keyPrefixChannel), false, func(val []byte) (bool, error) {
		ch, err := persistence.UnmarshalChannel(val)
		if err != nil {
			return false, err
		}
		if filter.Matches(ch) {
			channels = append(channels, ch)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Channels: %w", err)
	}

	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].ID > channels[j].ID
		}
		return channels[i].CreatedAt.After(channels[j].CreatedAt)
	})
	return channels, nil
}

func (b *BadgerPersistence) CloseChannel(_ context.Context, req *persistence.CloseChannelRequest) (*types.Channel, error) {
	if req == nil {
		return nil, fmt.Errorf("close request cannot be nil")
	}
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var closed *types.Channel
	err := b.update(func(txn *badgerdb.Txn) error {
		ch, err := getChannel(txn, req.ChannelID)
		if err != nil {
			return err
		}
		updated, err := persistence.ApplyClose(ch, req)
		if err != nil {
			return err
		}
		closed = updated
		return putChannel(txn, updated)
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (b *BadgerPersistence) DeleteChannel(_ context.Context, id string) error {
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	return b.update(func(txn *badgerdb.Txn) error {
		ch, err := getChannel(txn, id)
		if err != nil || ch == nil {
			return err
		}
		if ch.IsOpen() {
			return types.ErrChannelNotClosed
		}
		if err := txn.Delete(contractKey(ch.ContractAddress)); err != nil {
			return err
		}
		return txn.Delete(channelKey(id))
	})
}

// AppendPayment reports a Badger commit conflict as ErrWriteConflict without
// retrying; the caller revalidates the proof against the new ledger head.
func (b *BadgerPersistence) AppendPayment(_ context.Context, payment *types.Payment, expectedLastIndex uint64) (*types.Channel, error) {
	if payment == nil {
		return nil, fmt.Errorf("cannot save nil Payment")
	}
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	data, err := persistence.MarshalPayment(payment)
	if err != nil {
		return nil, err
	}

	var updated *types.Channel
	err = b.db.Update(func(txn *badgerdb.Txn) error {
		ch, err := getChannel(txn, payment.ChannelID)
		if err != nil {
			return err
		}
		if err := persistence.CheckAppend(ch, payment, expectedLastIndex); err != nil {
			return err
		}
		used, err := get(txn, hashKey(payment.Hash))
		if err != nil {
			return err
		}
		if used != nil {
			return types.ErrDuplicateHash
		}

		key := paymentKey(payment.ChannelID, payment.Index)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(hashKey(payment.Hash), key); err != nil {
			return err
		}
		updated = persistence.ApplyAppend(ch, payment)
		return putChannel(txn, updated)
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return nil, persistence.ErrWriteConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *BadgerPersistence) LatestPayment(_ context.Context, channelID string) (*types.Payment, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var latest *types.Payment
	err := b.scan(paymentPrefix(channelID), true, func(val []byte) (bool, error) {
		p, err := persistence.UnmarshalPayment(val)
		if err != nil {
			return false, err
		}
		latest = p
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load latest Payment: %w", err)
	}
	return latest, nil
}

func (b *BadgerPersistence) ListPayments(_ context.Context, channelID string) ([]*types.Payment, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	payments := make([]*types.Payment, 0)
	err := b.scan(paymentPrefix(channelID), false, func(val []byte) (bool, error) {
		p, err := persistence.UnmarshalPayment(val)
		if err != nil {
			return false, err
		}
		payments = append(payments, p)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Payments: %w", err)
	}
	return payments, nil
}

func (b *BadgerPersistence) GetPaymentByHash(_ context.Context, hash common.Hash) (*types.Payment, error) {
	if err := b.readLock(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		key, err := get(txn, hashKey(hash))
		if err != nil || key == nil {
			return err
		}
		data, err = get(txn, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Payment by hash: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalPayment(data)
}

// scan visits values under prefix in key order (or reverse) until fn returns false.
func (b *BadgerPersistence) scan(prefix []byte, reverse bool, fn func(val []byte) (bool, error)) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(val)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// Close cleanly shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	if err := b.readLock(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return nil
	})
}
