// Package persistencetest holds the behavioural tests every
// IPaywordPersistence backend must pass.
package persistencetest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.IPaywordPersistence

func NewVendor(addr string) *types.Vendor {
	now := time.Now().UTC()
	return &types.Vendor{
		ID:            uuid.New().String(),
		ChainID:       31337,
		Address:       common.HexToAddress(addr),
		AmountPerHash: decimal.RequireFromString("0.0001"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func NewChannel(vendorID string, contract common.Address, numHashes uint64) *types.Channel {
	now := time.Now().UTC()
	return &types.Channel{
		ID:              uuid.New().String(),
		VendorID:        vendorID,
		Sender:          common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Recipient:       common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		ContractAddress: contract,
		NumHashes:       numHashes,
		Tail:            crypto.Keccak256Hash(contract.Bytes()),
		TotalAmount:     big.NewInt(1_000_000_000_000_000_000),
		Status:          types.ChannelStatus_Open,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func NewPayment(ch *types.Channel, index uint64) *types.Payment {
	return &types.Payment{
		ID:        uuid.New().String(),
		ChannelID: ch.ID,
		VendorID:  ch.VendorID,
		Hash:      crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d", ch.ID, index))),
		Index:     index,
		Amount:    big.NewInt(100),
		CreatedAt: time.Now().UTC(),
	}
}

func contractAddr(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + n)))
}

// Run executes the full suite against backends produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, p persistence.IPaywordPersistence)
	}{
		{"VendorLifecycle", testVendorLifecycle},
		{"VendorDuplicateAddress", testVendorDuplicateAddress},
		{"ChannelCreateAndLookup", testChannelCreateAndLookup},
		{"ChannelDuplicateContract", testChannelDuplicateContract},
		{"ListChannelsFilter", testListChannelsFilter},
		{"AppendPayment", testAppendPayment},
		{"AppendRejectsStaleExpectation", testAppendRejectsStaleExpectation},
		{"AppendRejectsOutOfOrder", testAppendRejectsOutOfOrder},
		{"AppendRejectsDuplicateHashAcrossChannels", testAppendRejectsDuplicateHash},
		{"AppendRejectsClosedChannel", testAppendRejectsClosedChannel},
		{"CloseChannelOnce", testCloseChannelOnce},
		{"DeleteChannel", testDeleteChannel},
		{"ConcurrentAppendsSameChannel", testConcurrentAppends},
		{"NotFound", testNotFound},
		{"ClosedStore", testClosedStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStore(t)
			defer func() { _ = p.Close() }()
			tt.fn(t, p)
		})
	}
}

func testVendorLifecycle(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	v := NewVendor("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, p.CreateVendor(ctx, v))

	loaded, err := p.GetVendor(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, v.Address, loaded.Address)
	assert.True(t, v.AmountPerHash.Equal(loaded.AmountPerHash))

	byAddr, err := p.GetVendorByAddress(ctx, v.Address)
	require.NoError(t, err)
	require.NotNil(t, byAddr)
	assert.Equal(t, v.ID, byAddr.ID)

	v.AmountPerHash = decimal.RequireFromString("0.5")
	v.Address = common.HexToAddress("0x01")
	require.NoError(t, p.UpdateVendor(ctx, v))
	loaded, err = p.GetVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.5").Equal(loaded.AmountPerHash))
	assert.Equal(t, byAddr.Address, loaded.Address, "address is immutable")

	second := NewVendor("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	second.CreatedAt = v.CreatedAt.Add(time.Second)
	require.NoError(t, p.CreateVendor(ctx, second))
	all, err := p.ListVendors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	require.NoError(t, p.DeleteVendor(ctx, v.ID))
	require.NoError(t, p.DeleteVendor(ctx, v.ID), "delete is idempotent")
	loaded, err = p.GetVendor(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	missing := NewVendor("0x02")
	assert.ErrorIs(t, p.UpdateVendor(ctx, missing), types.ErrVendorNotFound)
}

func testVendorDuplicateAddress(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	require.NoError(t, p.CreateVendor(ctx, NewVendor("0x03")))
	assert.ErrorIs(t, p.CreateVendor(ctx, NewVendor("0x03")), types.ErrVendorExists)
}

func testChannelCreateAndLookup(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("vendor-1", contractAddr(1), 100)
	require.NoError(t, p.CreateChannel(ctx, ch))

	loaded, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ch.Tail, loaded.Tail)
	assert.Equal(t, ch.NumHashes, loaded.NumHashes)
	assert.Equal(t, 0, ch.TotalAmount.Cmp(loaded.TotalAmount))
	assert.Equal(t, types.ChannelStatus_Open, loaded.Status)

	byContract, err := p.GetChannelByContract(ctx, ch.ContractAddress)
	require.NoError(t, err)
	require.NotNil(t, byContract)
	assert.Equal(t, ch.ID, byContract.ID)
}

func testChannelDuplicateContract(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	require.NoError(t, p.CreateChannel(ctx, NewChannel("v", contractAddr(2), 10)))
	assert.ErrorIs(t, p.CreateChannel(ctx, NewChannel("v", contractAddr(2), 10)), types.ErrChannelExists)
}

func testListChannelsFilter(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	base := time.Now().UTC()
	a := NewChannel("v1", contractAddr(10), 10)
	a.CreatedAt = base
	b := NewChannel("v1", contractAddr(11), 10)
	b.CreatedAt = base.Add(time.Second)
	c := NewChannel("v2", contractAddr(12), 10)
	c.Sender = common.HexToAddress("0x99")
	c.CreatedAt = base.Add(2 * time.Second)
	for _, ch := range []*types.Channel{a, b, c} {
		require.NoError(t, p.CreateChannel(ctx, ch))
	}
	_, err := p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: a.ID, SettlementTx: "0x1", ClosedAt: base})
	require.NoError(t, err)

	all, err := p.ListChannels(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID)

	v1, err := p.ListChannels(ctx, &types.ChannelFilter{VendorID: "v1"})
	require.NoError(t, err)
	assert.Len(t, v1, 2)

	sender := common.HexToAddress("0x99")
	bySender, err := p.ListChannels(ctx, &types.ChannelFilter{Sender: &sender})
	require.NoError(t, err)
	require.Len(t, bySender, 1)
	assert.Equal(t, c.ID, bySender[0].ID)

	open, err := p.ListChannels(ctx, &types.ChannelFilter{VendorID: "v1", Status: types.ChannelStatus_Open})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func testAppendPayment(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(20), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))

	latest, err := p.LatestPayment(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	p1 := NewPayment(ch, 1)
	updated, err := p.AppendPayment(ctx, p1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), updated.LastIndex)

	p3 := NewPayment(ch, 3)
	updated, err = p.AppendPayment(ctx, p3, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), updated.LastIndex)

	latest, err = p.LatestPayment(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, p3.Hash, latest.Hash)
	assert.Equal(t, uint64(3), latest.Index)

	payments, err := p.ListPayments(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, uint64(1), payments[0].Index)
	assert.Equal(t, uint64(3), payments[1].Index)

	byHash, err := p.GetPaymentByHash(ctx, p1.Hash)
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, ch.ID, byHash.ChannelID)

	stored, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stored.LastIndex)
}

func testAppendRejectsStaleExpectation(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(21), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))
	_, err := p.AppendPayment(ctx, NewPayment(ch, 2), 0)
	require.NoError(t, err)

	_, err = p.AppendPayment(ctx, NewPayment(ch, 4), 0)
	assert.ErrorIs(t, err, persistence.ErrWriteConflict)

	stored, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.LastIndex)
}

func testAppendRejectsOutOfOrder(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(22), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))

	_, err := p.AppendPayment(ctx, NewPayment(ch, 3), 0)
	require.NoError(t, err)
	_, err = p.AppendPayment(ctx, NewPayment(ch, 5), 3)
	require.NoError(t, err)
	_, err = p.AppendPayment(ctx, NewPayment(ch, 4), 5)
	assert.ErrorIs(t, err, types.ErrOutOfOrder)

	payments, err := p.ListPayments(ctx, ch.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func testAppendRejectsDuplicateHash(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	a := NewChannel("v", contractAddr(23), 10)
	b := NewChannel("v", contractAddr(24), 10)
	require.NoError(t, p.CreateChannel(ctx, a))
	require.NoError(t, p.CreateChannel(ctx, b))

	pa := NewPayment(a, 1)
	_, err := p.AppendPayment(ctx, pa, 0)
	require.NoError(t, err)

	pb := NewPayment(b, 1)
	pb.Hash = pa.Hash
	_, err = p.AppendPayment(ctx, pb, 0)
	assert.ErrorIs(t, err, types.ErrDuplicateHash)

	stored, err := p.GetChannel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored.LastIndex, "failed append must not advance the channel")
}

func testAppendRejectsClosedChannel(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(25), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))
	_, err := p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: ch.ID, SettlementTx: "0xabc", ClosedAt: time.Now()})
	require.NoError(t, err)

	_, err = p.AppendPayment(ctx, NewPayment(ch, 1), 0)
	assert.ErrorIs(t, err, types.ErrChannelClosed)

	missing := NewChannel("v", contractAddr(26), 10)
	_, err = p.AppendPayment(ctx, NewPayment(missing, 1), 0)
	assert.ErrorIs(t, err, types.ErrChannelNotFound)
}

func testCloseChannelOnce(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(27), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))

	closedAt := time.Now().UTC().Truncate(time.Second)
	closed, err := p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: ch.ID, SettlementTx: "0xfirst", ClosedAt: closedAt})
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Closed, closed.Status)
	assert.Equal(t, "0xfirst", closed.SettlementTx)

	_, err = p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: ch.ID, SettlementTx: "0xsecond", ClosedAt: time.Now()})
	assert.ErrorIs(t, err, types.ErrAlreadyClosed)

	stored, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xfirst", stored.SettlementTx)
	require.NotNil(t, stored.ClosedAt)
	assert.True(t, closedAt.Equal(*stored.ClosedAt))

	_, err = p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: "missing", SettlementTx: "0x1", ClosedAt: time.Now()})
	assert.ErrorIs(t, err, types.ErrChannelNotFound)
}

func testDeleteChannel(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(28), 10)
	require.NoError(t, p.CreateChannel(ctx, ch))
	_, err := p.AppendPayment(ctx, NewPayment(ch, 1), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, p.DeleteChannel(ctx, ch.ID), types.ErrChannelNotClosed)

	_, err = p.CloseChannel(ctx, &persistence.CloseChannelRequest{ChannelID: ch.ID, SettlementTx: "0x1", ClosedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, p.DeleteChannel(ctx, ch.ID))
	require.NoError(t, p.DeleteChannel(ctx, ch.ID))

	loaded, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	byContract, err := p.GetChannelByContract(ctx, ch.ContractAddress)
	require.NoError(t, err)
	assert.Nil(t, byContract)

	payments, err := p.ListPayments(ctx, ch.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1, "payments outlive the channel record")
}

// testConcurrentAppends races many writers on one channel, each proposing the
// next index from the state it read. Whatever interleaving happens, the ledger
// must stay strictly increasing and LastIndex must equal the last entry.
func testConcurrentAppends(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	ch := NewChannel("v", contractAddr(29), 1000)
	require.NoError(t, p.CreateChannel(ctx, ch))

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				current, err := p.GetChannel(ctx, ch.ID)
				if err != nil || current == nil {
					return
				}
				next := current.LastIndex + 1
				_, _ = p.AppendPayment(ctx, NewPayment(ch, next), current.LastIndex)
			}
		}()
	}
	wg.Wait()

	payments, err := p.ListPayments(ctx, ch.ID)
	require.NoError(t, err)
	require.NotEmpty(t, payments)
	for i := 1; i < len(payments); i++ {
		assert.Greater(t, payments[i].Index, payments[i-1].Index)
	}

	stored, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, payments[len(payments)-1].Index, stored.LastIndex)
	assert.Equal(t, uint64(len(payments)), stored.LastIndex, "every committed index is exactly one ahead of its predecessor")
}

func testNotFound(t *testing.T, p persistence.IPaywordPersistence) {
	ctx := context.Background()
	v, err := p.GetVendor(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	ch, err := p.GetChannel(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, ch)

	ch, err = p.GetChannelByContract(ctx, contractAddr(999))
	require.NoError(t, err)
	assert.Nil(t, ch)

	pay, err := p.GetPaymentByHash(ctx, common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Nil(t, pay)

	latest, err := p.LatestPayment(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, latest)

	payments, err := p.ListPayments(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func testClosedStore(t *testing.T, p persistence.IPaywordPersistence) {
	require.NoError(t, p.HealthCheck())
	require.NoError(t, p.Close())

	assert.Error(t, p.HealthCheck())
	_, err := p.GetChannel(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, p.CreateVendor(context.Background(), NewVendor("0x04")))
}
