package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow/simulated"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vendorAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	deposit    = big.NewInt(1_000_000_000_000_000_000)
)

type fixture struct {
	settler *Settler
	ledger  *ledger.Ledger
	escrow  *simulated.Contract
	vendor  *types.Vendor
	channel *types.Channel
	chain   *hashchain.Chain
}

func newFixture(t *testing.T, length uint64) *fixture {
	t.Helper()
	ctx := context.Background()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	esc := simulated.NewContract(vendorAddr)
	channels := channel.NewService(store, esc, l)
	lg := ledger.NewLedger(store, l)

	vendor, err := channels.CreateVendor(ctx, &channel.CreateVendorRequest{
		ChainID:       31337,
		Address:       vendorAddr.Hex(),
		AmountPerHash: decimal.RequireFromString("0.001"),
	})
	require.NoError(t, err)

	chain, err := hashchain.Generate([]byte("settlement-secret"), length)
	require.NoError(t, err)
	contract := esc.Deploy(senderAddr, vendorAddr, length, chain.Tail(), deposit)

	ch, err := channels.Open(ctx, &channel.OpenRequest{VendorID: vendor.ID, ContractAddress: contract})
	require.NoError(t, err)

	return &fixture{
		settler: NewSettler(lg, channels, esc, time.Minute, l),
		ledger:  lg,
		escrow:  esc,
		vendor:  vendor,
		channel: ch,
		chain:   chain,
	}
}

func (f *fixture) pay(t *testing.T, index uint64) {
	t.Helper()
	link, err := f.chain.Link(index)
	require.NoError(t, err)
	ch, err := f.settler.channels.Get(context.Background(), f.channel.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.Append(context.Background(), ch, link, big.NewInt(1), ch.LastIndex)
	require.NoError(t, err)
}

func TestSettler_PlanMatchesOriginIndexing(t *testing.T) {
	f := newFixture(t, 1000)
	f.pay(t, 40)
	f.pay(t, 100)

	plan, err := f.settler.Plan(context.Background(), f.channel.ID)
	require.NoError(t, err)

	word, err := f.chain.AtOrigin(900)
	require.NoError(t, err)
	assert.Equal(t, word, plan.Word)
	assert.Equal(t, uint64(900), plan.OriginIndex)
	assert.Equal(t, uint64(100), plan.WordCount)

	expected := new(big.Int).Div(new(big.Int).Mul(deposit, big.NewInt(100)), big.NewInt(1000))
	assert.Equal(t, 0, expected.Cmp(plan.Payout))
}

func TestSettler_SettlePaysProportionally(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.pay(t, 100)

	res, err := f.settler.Settle(ctx, f.channel.ID, f.vendor.ID)
	require.NoError(t, err)

	assert.Equal(t, types.ChannelStatus_Closed, res.Channel.Status)
	assert.Equal(t, res.Close.TxHash.Hex(), res.Channel.SettlementTx)

	expected := new(big.Int).Div(new(big.Int).Mul(deposit, big.NewInt(100)), big.NewInt(1000))
	assert.Equal(t, 0, expected.Cmp(f.escrow.BalanceOf(vendorAddr)))
	assert.Equal(t, 0, new(big.Int).Sub(deposit, expected).Cmp(f.escrow.BalanceOf(senderAddr)))

	_, err = f.settler.Settle(ctx, f.channel.ID, f.vendor.ID)
	assert.ErrorIs(t, err, types.ErrAlreadyClosed)
}

func TestSettler_Rejections(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.settler.Plan(ctx, f.channel.ID)
	assert.ErrorIs(t, err, types.ErrNothingToSettle)

	f.pay(t, 2)
	_, err = f.settler.Settle(ctx, f.channel.ID, "someone-else")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = f.settler.Plan(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrChannelNotFound)

	// nothing was paid out
	assert.Equal(t, 0, f.escrow.BalanceOf(vendorAddr).Sign())
}
