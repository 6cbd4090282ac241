package channel

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow/simulated"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vendorAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type fixture struct {
	svc    *Service
	store  *memory.MemoryPersistence
	escrow *simulated.Contract
	ledger *ledger.Ledger
	vendor *types.Vendor
	chain  *hashchain.Chain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	esc := simulated.NewContract(vendorAddr)
	svc := NewService(store, esc, l)

	vendor, err := svc.CreateVendor(context.Background(), &CreateVendorRequest{
		ChainID:       31337,
		Address:       vendorAddr.Hex(),
		AmountPerHash: decimal.RequireFromString("0.001"),
	})
	require.NoError(t, err)

	chain, err := hashchain.Generate([]byte("channel-secret"), 100)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, escrow: esc, ledger: ledger.NewLedger(store, l), vendor: vendor, chain: chain}
}

func (f *fixture) deploy(recipient common.Address) common.Address {
	return f.escrow.Deploy(senderAddr, recipient, f.chain.Length(), f.chain.Tail(), big.NewInt(1_000_000))
}

func TestService_CreateVendorValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateVendorRequest
		want error
	}{
		{"bad address", &CreateVendorRequest{ChainID: 31337, Address: "0x123", AmountPerHash: decimal.NewFromInt(1)}, types.ErrInvalidRequest},
		{"unsupported chain", &CreateVendorRequest{ChainID: 5, Address: senderAddr.Hex(), AmountPerHash: decimal.NewFromInt(1)}, types.ErrInvalidRequest},
		{"zero price", &CreateVendorRequest{ChainID: 31337, Address: senderAddr.Hex(), AmountPerHash: decimal.Zero}, types.ErrInvalidRequest},
		{"duplicate address", &CreateVendorRequest{ChainID: 31337, Address: vendorAddr.Hex(), AmountPerHash: decimal.NewFromInt(1)}, types.ErrVendorExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateVendor(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_UpdateAndDeleteVendor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	price := decimal.RequireFromString("0.5")
	updated, err := f.svc.UpdateVendor(ctx, f.vendor.ID, &UpdateVendorRequest{AmountPerHash: &price})
	require.NoError(t, err)
	assert.True(t, price.Equal(updated.AmountPerHash))
	assert.Equal(t, vendorAddr, updated.Address)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr)})
	require.NoError(t, err)
	err = f.svc.DeleteVendor(ctx, f.vendor.ID)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = f.svc.UpdateVendor(ctx, "missing", &UpdateVendorRequest{AmountPerHash: &price})
	assert.ErrorIs(t, err, types.ErrVendorNotFound)
}

func TestService_OpenTakesTermsFromEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contract := f.deploy(vendorAddr)

	ch, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: contract})
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Open, ch.Status)
	assert.Equal(t, senderAddr, ch.Sender)
	assert.Equal(t, vendorAddr, ch.Recipient)
	assert.Equal(t, uint64(100), ch.NumHashes)
	assert.Equal(t, f.chain.Tail(), ch.Tail)
	assert.Equal(t, int64(1_000_000), ch.TotalAmount.Int64())
	assert.Equal(t, uint64(0), ch.LastIndex)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: contract})
	assert.ErrorIs(t, err, types.ErrChannelExists)

	byContract, err := f.svc.GetByContract(ctx, contract)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, byContract.ID)
}

func TestService_OpenRejectsMismatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(senderAddr)})
	assert.ErrorIs(t, err, types.ErrRecipientMismatch)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr), NumHashes: 99})
	assert.ErrorIs(t, err, types.ErrEscrowMismatch)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr), Tail: common.Hash{1}})
	assert.ErrorIs(t, err, types.ErrEscrowMismatch)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr), TotalAmount: big.NewInt(1)})
	assert.ErrorIs(t, err, types.ErrEscrowMismatch)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: common.HexToAddress("0xdead")})
	assert.ErrorIs(t, err, types.ErrEscrowMismatch)

	_, err = f.svc.Open(ctx, &OpenRequest{VendorID: "nope", ContractAddress: f.deploy(vendorAddr)})
	assert.ErrorIs(t, err, types.ErrVendorNotFound)

	channels, _, err := f.svc.List(ctx, nil, types.Page{})
	require.NoError(t, err)
	assert.Empty(t, channels)
}

// unreachableEscrow answers every read with a connection error.
type unreachableEscrow struct {
	calls atomic.Int32
}

func (u *unreachableEscrow) GetEscrowState(context.Context, common.Address) (*escrow.EscrowState, error) {
	u.calls.Add(1)
	return nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
}

func (u *unreachableEscrow) SimulateClose(context.Context, common.Address, common.Hash, uint64) error {
	return errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
}

func (u *unreachableEscrow) CloseChannel(context.Context, common.Address, common.Hash, uint64) (*escrow.CloseResult, error) {
	return nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
}

func TestService_OpenWithEscrowDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	inner := &unreachableEscrow{}
	retrying := escrow.NewRetryingEscrow(inner, &config.EscrowConfig{
		CallTimeout: 100 * time.Millisecond,
		MaxRetries:  1,
	}, l)
	svc := NewService(f.store, retrying, l)

	contract := f.deploy(vendorAddr)
	_, err = svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: contract})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEscrowUnavailable)
	assert.NotErrorIs(t, err, types.ErrEscrowMismatch)
	assert.Equal(t, int32(2), inner.calls.Load())

	// nothing was stored, so the same contract opens once the node is back
	existing, err := f.store.GetChannelByContract(ctx, contract)
	require.NoError(t, err)
	assert.Nil(t, existing)

	ch, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: contract})
	require.NoError(t, err)
	assert.Equal(t, contract, ch.ContractAddress)
}

func TestService_CloseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr)})
	require.NoError(t, err)

	link, err := f.chain.Link(3)
	require.NoError(t, err)
	_, _, err = f.ledger.Append(ctx, ch, link, big.NewInt(1), 0)
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: "other", SettlementTx: "0x01"})
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	wrong, _ := f.chain.Link(2)
	_, err = f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: f.vendor.ID, FinalProof: &wrong, SettlementTx: "0x01"})
	assert.ErrorIs(t, err, types.ErrInvalidProofChain)

	_, err = f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: f.vendor.ID})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	closed, err := f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: f.vendor.ID, FinalProof: &link, SettlementTx: "0x01"})
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Closed, closed.Status)
	assert.Equal(t, "0x01", closed.SettlementTx)
	require.NotNil(t, closed.ClosedAt)

	_, err = f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: f.vendor.ID, SettlementTx: "0x02"})
	assert.ErrorIs(t, err, types.ErrAlreadyClosed)

	again, err := f.svc.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "0x01", again.SettlementTx)
	assert.Equal(t, closed.ClosedAt.UnixNano(), again.ClosedAt.UnixNano())
}

func TestService_DeleteOnlyClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr)})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, ch.ID), types.ErrChannelNotClosed)

	_, err = f.svc.Close(ctx, &CloseRequest{ChannelID: ch.ID, VendorID: f.vendor.ID, SettlementTx: "0x01"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, ch.ID))

	_, err = f.svc.Get(ctx, ch.ID)
	assert.ErrorIs(t, err, types.ErrChannelNotFound)
}

func TestService_ListPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Open(ctx, &OpenRequest{VendorID: f.vendor.ID, ContractAddress: f.deploy(vendorAddr)})
		require.NoError(t, err)
	}

	page, pagination, err := f.svc.List(ctx, &types.ChannelFilter{VendorID: f.vendor.ID}, types.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, types.Pagination{Total: 5, Page: 2, Limit: 2, Pages: 3}, pagination)

	sender := senderAddr
	all, _, err := f.svc.List(ctx, &types.ChannelFilter{Sender: &sender}, types.Page{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, _, err := f.svc.List(ctx, &types.ChannelFilter{Status: types.ChannelStatus_Closed}, types.Page{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
