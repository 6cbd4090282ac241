package badger

import (
	"context"
	"testing"

	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/persistencetest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerPersistence_Conformance(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	persistencetest.Run(t, func(t *testing.T) persistence.IPaywordPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_Close_Idempotent(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
	require.NoError(t, err)

	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())
}

func TestBadgerPersistence_Persistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	vendor := persistencetest.NewVendor("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, bp1.CreateVendor(ctx, vendor))

	ch := persistencetest.NewChannel(vendor.ID, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), 100)
	require.NoError(t, bp1.CreateChannel(ctx, ch))

	p1 := persistencetest.NewPayment(ch, 1)
	_, err = bp1.AppendPayment(ctx, p1, 0)
	require.NoError(t, err)
	p2 := persistencetest.NewPayment(ch, 2)
	_, err = bp1.AppendPayment(ctx, p2, 1)
	require.NoError(t, err)

	require.NoError(t, bp1.Close())

	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loadedVendor, err := bp2.GetVendorByAddress(ctx, vendor.Address)
	require.NoError(t, err)
	require.NotNil(t, loadedVendor)
	assert.Equal(t, vendor.ID, loadedVendor.ID)

	loadedChannel, err := bp2.GetChannelByContract(ctx, ch.ContractAddress)
	require.NoError(t, err)
	require.NotNil(t, loadedChannel)
	assert.Equal(t, uint64(2), loadedChannel.LastIndex)

	latest, err := bp2.LatestPayment(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, p2.Hash, latest.Hash)

	// a replayed hash is still rejected after restart
	replay := persistencetest.NewPayment(ch, 3)
	replay.Hash = p1.Hash
	_, err = bp2.AppendPayment(ctx, replay, 2)
	assert.Error(t, err)
}

func TestPaymentKey_SortsByIndex(t *testing.T) {
	assert.Less(t, string(paymentKey("c", 9)), string(paymentKey("c", 10)))
	assert.Less(t, string(paymentKey("c", 99)), string(paymentKey("c", 1000)))
}
