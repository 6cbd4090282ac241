package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixVendor        = "payword:vendor:"
	keyPrefixVendorAddress = "payword:vendor_addr:"
	keyPrefixChannel       = "payword:channel:"
	keyPrefixContract      = "payword:contract:"
	keyPrefixPayment       = "payword:payment:"
	keyPrefixPaymentIndex  = "payword:payments:"
	keyPrefixHash          = "payword:hash:"
	keySchemaVersion       = "payword:metadata:schema_version"
	currentSchemaVersion   = "v1"

	// Key sets for listing operations (Redis doesn't support prefix iteration natively)
	keySetVendors  = "payword:vendors:index"
	keySetChannels = "payword:channels:index"

	maxWatchRetries = 5
)

// RedisPersistence is a persistence implementation using Redis.
// Ledger appends use WATCH/MULTI so concurrent writers to one channel are
// serialized by Redis rather than by a process-local lock, which lets several
// vendor servers share one ledger.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix prepended to every key, e.g.
	// "tenant1:" yields keys like "tenant1:payword:channel:<id>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

func (r *RedisPersistence) vendorKey(id string) string {
	return r.prefixKey(keyPrefixVendor + id)
}

func (r *RedisPersistence) vendorAddressKey(addr common.Address) string {
	return r.prefixKey(keyPrefixVendorAddress + strings.ToLower(addr.Hex()))
}

func (r *RedisPersistence) channelKey(id string) string {
	return r.prefixKey(keyPrefixChannel + id)
}

func (r *RedisPersistence) contractKey(addr common.Address) string {
	return r.prefixKey(keyPrefixContract + strings.ToLower(addr.Hex()))
}

func (r *RedisPersistence) paymentKey(channelID string, index uint64) string {
	return r.prefixKey(fmt.Sprintf("%s%s:%d", keyPrefixPayment, channelID, index))
}

func (r *RedisPersistence) paymentIndexKey(channelID string) string {
	return r.prefixKey(keyPrefixPaymentIndex + channelID)
}

func (r *RedisPersistence) hashKey(h common.Hash) string {
	return r.prefixKey(keyPrefixHash + strings.ToLower(h.Hex()))
}

func (r *RedisPersistence) readLock() error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return persistence.ErrClosed
	}
	return nil
}

// watch runs an optimistic transaction, retrying when a watched key changes.
func (r *RedisPersistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func getBytes(ctx context.Context, c redis.Cmdable, key string) ([]byte, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (r *RedisPersistence) getChannel(ctx context.Context, c redis.Cmdable, id string) (*types.Channel, error) {
	data, err := getBytes(ctx, c, r.channelKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalChannel(data)
}

func (r *RedisPersistence) CreateVendor(ctx context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	data, err := persistence.MarshalVendor(vendor)
	if err != nil {
		return err
	}
	addrKey := r.vendorAddressKey(vendor.Address)
	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, addrKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return types.ErrVendorExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, addrKey, vendor.ID, 0)
			pipe.Set(ctx, r.vendorKey(vendor.ID), data, 0)
			pipe.SAdd(ctx, r.prefixKey(keySetVendors), vendor.ID)
			return nil
		})
		return err
	}, addrKey)
}

func (r *RedisPersistence) UpdateVendor(ctx context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	key := r.vendorKey(vendor.ID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		data, err := getBytes(ctx, tx, key)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)
}

func (r *RedisPersistence) GetVendor(ctx context.Context, id string) (*types.Vendor, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	data, err := getBytes(ctx, r.client, r.vendorKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load Vendor: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalVendor(data)
}

func (r *RedisPersistence) GetVendorByAddress(ctx context.Context, address common.Address) (*types.Vendor, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	id, err := r.client.Get(ctx, r.vendorAddressKey(address)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Vendor by address: %w", err)
	}
	data, err := getBytes(ctx, r.client, r.vendorKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalVendor(data)
}

// mgetIndexed loads every key named by ids through keyFn in a single MGET,
// skipping members whose record has since disappeared.
func (r *RedisPersistence) mgetIndexed(ctx context.Context, ids []string, keyFn func(string) string) ([][]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

func (r *RedisPersistence) ListVendors(ctx context.Context) ([]*types.Vendor, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetVendors)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Vendors: %w", err)
	}
	raw, err := r.mgetIndexed(ctx, ids, r.vendorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vendors: %w", err)
	}

	vendors := make([]*types.Vendor, 0, len(raw))
	for _, data := range raw {
		v, err := persistence.UnmarshalVendor(data)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool {
		return vendors[i].CreatedAt.After(vendors[j].CreatedAt)
	})
	return vendors, nil
}

func (r *RedisPersistence) DeleteVendor(ctx context.Context, id string) error {
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	key := r.vendorKey(id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		data, err := getBytes(ctx, tx, key)
		if err != nil || data == nil {
			return err
		}
		v, err := persistence.UnmarshalVendor(data)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, r.vendorAddressKey(v.Address))
			pipe.SRem(ctx, r.prefixKey(keySetVendors), id)
			return nil
		})
		return err
	}, key)
}

func (r *RedisPersistence) CreateChannel(ctx context.Context, channel *types.Channel) error {
	if channel == nil {
		return fmt.Errorf("cannot save nil Channel")
	}
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	data, err := persistence.MarshalChannel(channel)
	if err != nil {
		return err
	}
	cKey := r.contractKey(channel.ContractAddress)
	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, cKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return types.ErrChannelExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cKey, channel.ID, 0)
			pipe.Set(ctx, r.channelKey(channel.ID), data, 0)
			pipe.SAdd(ctx, r.prefixKey(keySetChannels), channel.ID)
			return nil
		})
		return err
	}, cKey)
}

func (r *RedisPersistence) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	ch, err := r.getChannel(ctx, r.client, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load Channel: %w", err)
	}
	return ch, nil
}

func (r *RedisPersistence) GetChannelByContract(ctx context.Context, contract common.Address) (*types.Channel, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	id, err := r.client.Get(ctx, r.contractKey(contract)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Channel by contract: %w", err)
	}
	return r.getChannel(ctx, r.client, id)
}

func (r *RedisPersistence) ListChannels(ctx context.Context, filter *types.ChannelFilter) ([]*types.Channel, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetChannels)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Channels: %w", err)
	}
	raw, err := r.mgetIndexed(ctx, ids, r.channelKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load Channels: %w", err)
	}

	channels := make([]*types.Channel, 0, len(raw))
	for _, data := range raw {
		ch, err := persistence.UnmarshalChannel(data)
		if err != nil {
			return nil, err
		}
		if filter.Matches(ch) {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].ID > channels[j].ID
		}
		return channels[i].CreatedAt.After(channels[j].CreatedAt)
	})
	return channels, nil
}

func (r *RedisPersistence) CloseChannel(ctx context.Context, req *persistence.CloseChannelRequest) (*types.Channel, error) {
	if req == nil {
		return nil, fmt.Errorf("close request cannot be nil")
	}
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	key := r.channelKey(req.ChannelID)
	var closed *types.Channel
	err := r.watch(ctx, func(tx *redis.Tx) error {
		ch, err := r.getChannel(ctx, tx, req.ChannelID)
		if err != nil {
			return err
		}
		updated, err := persistence.ApplyClose(ch, req)
		if err != nil {
			return err
		}
		data, err := persistence.MarshalChannel(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			closed = updated
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (r *RedisPersistence) DeleteChannel(ctx context.Context, id string) error {
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	key := r.channelKey(id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		ch, err := r.getChannel(ctx, tx, id)
		if err != nil || ch == nil {
			return err
		}
		if ch.IsOpen() {
			return types.ErrChannelNotClosed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, r.contractKey(ch.ContractAddress))
			pipe.SRem(ctx, r.prefixKey(keySetChannels), id)
			return nil
		})
		return err
	}, key)
}

// AppendPayment watches the channel record and the hash marker. If either
// changes before EXEC the transaction aborts and ErrWriteConflict is returned.
func (r *RedisPersistence) AppendPayment(ctx context.Context, payment *types.Payment, expectedLastIndex uint64) (*types.Channel, error) {
	if payment == nil {
		return nil, fmt.Errorf("cannot save nil Payment")
	}
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	data, err := persistence.MarshalPayment(payment)
	if err != nil {
		return nil, err
	}

	chKey := r.channelKey(payment.ChannelID)
	hKey := r.hashKey(payment.Hash)
	payKey := r.paymentKey(payment.ChannelID, payment.Index)

	var updated *types.Channel
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		ch, err := r.getChannel(ctx, tx, payment.ChannelID)
		if err != nil {
			return err
		}
		if err := persistence.CheckAppend(ch, payment, expectedLastIndex); err != nil {
			return err
		}
		used, err := tx.Exists(ctx, hKey).Result()
		if err != nil {
			return err
		}
		if used > 0 {
			return types.ErrDuplicateHash
		}

		next := persistence.ApplyAppend(ch, payment)
		chData, err := persistence.MarshalChannel(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, payKey, data, 0)
			pipe.Set(ctx, hKey, payKey, 0)
			pipe.ZAdd(ctx, r.paymentIndexKey(payment.ChannelID), redis.Z{Score: float64(payment.Index), Member: payKey})
			pipe.Set(ctx, chKey, chData, 0)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}, chKey, hKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, persistence.ErrWriteConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RedisPersistence) LatestPayment(ctx context.Context, channelID string) (*types.Payment, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	keys, err := r.client.ZRevRange(ctx, r.paymentIndexKey(channelID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load latest Payment: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	data, err := getBytes(ctx, r.client, keys[0])
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalPayment(data)
}

func (r *RedisPersistence) ListPayments(ctx context.Context, channelID string) ([]*types.Payment, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	keys, err := r.client.ZRange(ctx, r.paymentIndexKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Payments: %w", err)
	}
	raw, err := r.mgetIndexed(ctx, keys, func(k string) string { return k })
	if err != nil {
		return nil, fmt.Errorf("failed to load Payments: %w", err)
	}

	payments := make([]*types.Payment, 0, len(raw))
	for _, data := range raw {
		p, err := persistence.UnmarshalPayment(data)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func (r *RedisPersistence) GetPaymentByHash(ctx context.Context, hash common.Hash) (*types.Payment, error) {
	if err := r.readLock(); err != nil {
		return nil, err
	}
	defer r.mu.RUnlock()

	payKey, err := r.client.Get(ctx, r.hashKey(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Payment by hash: %w", err)
	}
	data, err := getBytes(ctx, r.client, payKey)
	if err != nil || data == nil {
		return nil, err
	}
	return persistence.UnmarshalPayment(data)
}

// Close cleanly shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	if err := r.readLock(); err != nil {
		return err
	}
	defer r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
