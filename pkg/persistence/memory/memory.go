package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryPersistence is an in-memory implementation of IPaywordPersistence.
// This implementation is intended for TESTING and local development.
//
// Channels are locked individually so payments on unrelated channels never
// contend. The global hash index is a sync.Map claimed with LoadOrStore.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	vendorMu        sync.RWMutex
	vendors         map[string]*types.Vendor
	vendorByAddress map[common.Address]string

	// channel id -> *channelEntry
	channels sync.Map
	// contract address -> channel id
	contracts sync.Map
	// hash -> *types.Payment
	hashes sync.Map

	closed atomic.Bool
}

type channelEntry struct {
	mu       sync.Mutex
	channel  *types.Channel
	payments []*types.Payment
	deleted  bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL PAYMENTS WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set PAYWORD_PERSISTENCE=badger for production")

	return &MemoryPersistence{
		vendors:         make(map[string]*types.Vendor),
		vendorByAddress: make(map[common.Address]string),
	}
}

func (m *MemoryPersistence) checkOpen() error {
	if m.closed.Load() {
		return persistence.ErrClosed
	}
	return nil
}

func (m *MemoryPersistence) CreateVendor(_ context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	m.vendorMu.Lock()
	defer m.vendorMu.Unlock()

	if _, exists := m.vendorByAddress[vendor.Address]; exists {
		return types.ErrVendorExists
	}
	m.vendors[vendor.ID] = vendor.Clone()
	m.vendorByAddress[vendor.Address] = vendor.ID
	return nil
}

func (m *MemoryPersistence) UpdateVendor(_ context.Context, vendor *types.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("cannot save nil Vendor")
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	m.vendorMu.Lock()
	defer m.vendorMu.Unlock()

	existing, ok := m.vendors[vendor.ID]
	if !ok {
		return types.ErrVendorNotFound
	}
	updated := vendor.Clone()
	updated.Address = existing.Address
	updated.CreatedAt = existing.CreatedAt
	m.vendors[vendor.ID] = updated
	return nil
}

func (m *MemoryPersistence) GetVendor(_ context.Context, id string) (*types.Vendor, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.vendorMu.RLock()
	defer m.vendorMu.RUnlock()

	return m.vendors[id].Clone(), nil
}

func (m *MemoryPersistence) GetVendorByAddress(_ context.Context, address common.Address) (*types.Vendor, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.vendorMu.RLock()
	defer m.vendorMu.RUnlock()

	id, ok := m.vendorByAddress[address]
	if !ok {
		return nil, nil
	}
	return m.vendors[id].Clone(), nil
}

func (m *MemoryPersistence) ListVendors(_ context.Context) ([]*types.Vendor, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.vendorMu.RLock()
	defer m.vendorMu.RUnlock()

	out := make([]*types.Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryPersistence) DeleteVendor(_ context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	m.vendorMu.Lock()
	defer m.vendorMu.Unlock()

	if v, ok := m.vendors[id]; ok {
		delete(m.vendorByAddress, v.Address)
		delete(m.vendors, id)
	}
	return nil
}

func (m *MemoryPersistence) CreateChannel(_ context.Context, channel *types.Channel) error {
	if channel == nil {
		return fmt.Errorf("cannot save nil Channel")
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, loaded := m.contracts.LoadOrStore(channel.ContractAddress, channel.ID); loaded {
		return types.ErrChannelExists
	}
	m.channels.Store(channel.ID, &channelEntry{channel: channel.Clone()})
	return nil
}

func (m *MemoryPersistence) entry(id string) *channelEntry {
	e, ok := m.channels.Load(id)
	if !ok {
		return nil
	}
	return e.(*channelEntry)
}

func (m *MemoryPersistence) GetChannel(_ context.Context, id string) (*types.Channel, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	e := m.entry(id)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, nil
	}
	return e.channel.Clone(), nil
}

func (m *MemoryPersistence) GetChannelByContract(ctx context.Context, contract common.Address) (*types.Channel, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	id, ok := m.contracts.Load(contract)
	if !ok {
		return nil, nil
	}
	return m.GetChannel(ctx, id.(string))
}

func (m *MemoryPersistence) ListChannels(_ context.Context, filter *types.ChannelFilter) ([]*types.Channel, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*types.Channel, 0)
	m.channels.Range(func(_, value any) bool {
		e := value.(*channelEntry)
		e.mu.Lock()
		if !e.deleted && filter.Matches(e.channel) {
			out = append(out, e.channel.Clone())
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryPersistence) CloseChannel(_ context.Context, req *persistence.CloseChannelRequest) (*types.Channel, error) {
	if req == nil {
		return nil, fmt.Errorf("close request cannot be nil")
	}
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	e := m.entry(req.ChannelID)
	if e == nil {
		return nil, types.ErrChannelNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, types.ErrChannelNotFound
	}

	updated, err := persistence.ApplyClose(e.channel, req)
	if err != nil {
		return nil, err
	}
	e.channel = updated
	return updated.Clone(), nil
}

func (m *MemoryPersistence) DeleteChannel(_ context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	e := m.entry(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil
	}
	if e.channel.IsOpen() {
		return types.ErrChannelNotClosed
	}
	e.deleted = true
	// The entry stays so the channel's payments remain listable.
	m.contracts.Delete(e.channel.ContractAddress)
	return nil
}

func (m *MemoryPersistence) AppendPayment(_ context.Context, payment *types.Payment, expectedLastIndex uint64) (*types.Channel, error) {
	if payment == nil {
		return nil, fmt.Errorf("cannot save nil Payment")
	}
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	e := m.entry(payment.ChannelID)
	if e == nil {
		return nil, types.ErrChannelNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, types.ErrChannelNotFound
	}

	if err := persistence.CheckAppend(e.channel, payment, expectedLastIndex); err != nil {
		return nil, err
	}

	// Claiming the hash is the last step that can fail, so nothing needs undoing.
	stored := payment.Clone()
	if _, loaded := m.hashes.LoadOrStore(payment.Hash, stored); loaded {
		return nil, types.ErrDuplicateHash
	}

	e.payments = append(e.payments, stored)
	e.channel = persistence.ApplyAppend(e.channel, payment)
	return e.channel.Clone(), nil
}

func (m *MemoryPersistence) LatestPayment(_ context.Context, channelID string) (*types.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	e := m.entry(channelID)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.payments) == 0 {
		return nil, nil
	}
	return e.payments[len(e.payments)-1].Clone(), nil
}

func (m *MemoryPersistence) ListPayments(_ context.Context, channelID string) ([]*types.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	e := m.entry(channelID)
	if e == nil {
		return []*types.Payment{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Payment, len(e.payments))
	for i, p := range e.payments {
		out[i] = p.Clone()
	}
	return out, nil
}

func (m *MemoryPersistence) GetPaymentByHash(_ context.Context, hash common.Hash) (*types.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	p, ok := m.hashes.Load(hash)
	if !ok {
		return nil, nil
	}
	return p.(*types.Payment).Clone(), nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.closed.Store(true)
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	return m.checkOpen()
}
