package issuer

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrChainNotFound = errors.New("hash chain not found")
	ErrNoContract    = errors.New("hash chain has no deployed contract")
	ErrStoreClosed   = errors.New("issuer store is closed")
)

// VendorInfo is what the issuer knows about the party a chain pays.
type VendorInfo struct {
	Address       common.Address  `json:"address"`
	ChainID       uint64          `json:"chainId"`
	AmountPerHash decimal.Decimal `json:"amountPerHash"`
}

// Record is the persisted state of one hash chain. LastIndex is the tail
// distance of the last link handed out.
type Record struct {
	ID          string          `json:"id"`
	Vendor      VendorInfo      `json:"vendor"`
	Secret      []byte          `json:"secret"`
	NumHashes   uint64          `json:"numHashes"`
	LastIndex   uint64          `json:"lastIndex"`
	Tail        common.Hash     `json:"tail"`
	Contract    *common.Address `json:"contractAddress,omitempty"`
	TotalAmount *big.Int        `json:"totalAmount,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Secret = append([]byte(nil), r.Secret...)
	if r.Contract != nil {
		addr := *r.Contract
		c.Contract = &addr
	}
	if r.TotalAmount != nil {
		c.TotalAmount = new(big.Int).Set(r.TotalAmount)
	}
	return &c
}

// Summary is a Record without its secret.
type Summary struct {
	ID          string          `json:"id"`
	Vendor      VendorInfo      `json:"vendor"`
	NumHashes   uint64          `json:"numHashes"`
	LastIndex   uint64          `json:"lastIndex"`
	Tail        common.Hash     `json:"tail"`
	Contract    *common.Address `json:"contractAddress,omitempty"`
	TotalAmount *big.Int        `json:"totalAmount,omitempty"`
	HasSecret   bool            `json:"hasSecret"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (r *Record) Summary() *Summary {
	c := r.Clone()
	return &Summary{
		ID:          c.ID,
		Vendor:      c.Vendor,
		NumHashes:   c.NumHashes,
		LastIndex:   c.LastIndex,
		Tail:        c.Tail,
		Contract:    c.Contract,
		TotalAmount: c.TotalAmount,
		HasSecret:   len(c.Secret) > 0,
		CreatedAt:   c.CreatedAt,
	}
}

// Proof is a link ready to be attached to a content request.
type Proof struct {
	ChainID  string         `json:"chainId"`
	Contract common.Address `json:"contractAddress"`
	Link     hashchain.Link `json:"link"`
}

// Store persists chain records. Update runs fn against the current record
// and saves the result atomically; an error from fn discards the change.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fn func(rec *Record) error) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps records in a map. Chains are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.records[rec.ID]; ok {
		return errors.Errorf("hash chain %s already exists", rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrChainNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(rec *Record) error) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrChainNotFound
	}
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.records[id]; !ok {
		return ErrChainNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
