package memory

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IPaywordPersistence {
		return NewMemoryPersistence()
	})
}

func TestMemoryPersistence_ReturnsCopies(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()
	ctx := context.Background()

	ch := persistencetest.NewChannel("v", common.HexToAddress("0x10"), 10)
	require.NoError(t, mp.CreateChannel(ctx, ch))

	ch.LastIndex = 9
	ch.TotalAmount.SetInt64(1)

	loaded, err := mp.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), loaded.LastIndex)
	assert.NotEqual(t, int64(1), loaded.TotalAmount.Int64())

	loaded.Status = types.ChannelStatus_Closed
	again, err := mp.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Open, again.Status)
}

// TestMemoryPersistence_IndependentChannels appends to many channels in
// parallel; each channel must end up with its own complete ledger.
func TestMemoryPersistence_IndependentChannels(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()
	ctx := context.Background()

	const channels = 20
	const links = 25
	all := make([]*types.Channel, channels)
	for i := range all {
		all[i] = persistencetest.NewChannel("v", common.BigToAddress(big.NewInt(int64(0x2000+i))), links)
		require.NoError(t, mp.CreateChannel(ctx, all[i]))
	}

	var wg sync.WaitGroup
	for _, ch := range all {
		wg.Add(1)
		go func(ch *types.Channel) {
			defer wg.Done()
			for idx := uint64(1); idx <= links; idx++ {
				_, err := mp.AppendPayment(ctx, persistencetest.NewPayment(ch, idx), idx-1)
				assert.NoError(t, err)
			}
		}(ch)
	}
	wg.Wait()

	for _, ch := range all {
		stored, err := mp.GetChannel(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(links), stored.LastIndex)
		assert.True(t, stored.IsExhausted())
	}
}
