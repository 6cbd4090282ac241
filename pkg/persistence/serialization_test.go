package persistence

import (
	"math/big"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalChannel_LargeAmount checks that wei amounts beyond uint64 survive storage.
func TestMarshalChannel_LargeAmount(t *testing.T) {
	total, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	closedAt := time.Unix(1700000000, 0).UTC()
	original := &types.Channel{
		ID:              "c1",
		ContractAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		NumHashes:       1000,
		LastIndex:       42,
		Tail:            common.HexToHash("0xabc"),
		TotalAmount:     total,
		Status:          types.ChannelStatus_Closed,
		ClosedAt:        &closedAt,
	}

	data, err := MarshalChannel(original)
	require.NoError(t, err)

	restored, err := UnmarshalChannel(data)
	require.NoError(t, err)
	assert.Equal(t, 0, original.TotalAmount.Cmp(restored.TotalAmount))
	assert.Equal(t, original.Tail, restored.Tail)
	assert.Equal(t, original.ContractAddress, restored.ContractAddress)
	require.NotNil(t, restored.ClosedAt)
	assert.True(t, closedAt.Equal(*restored.ClosedAt))
}

func TestSerialization_NilAndEmpty(t *testing.T) {
	_, err := MarshalVendor(nil)
	require.Error(t, err)
	_, err = MarshalChannel(nil)
	require.Error(t, err)
	_, err = MarshalPayment(nil)
	require.Error(t, err)

	_, err = UnmarshalVendor(nil)
	require.Error(t, err)
	_, err = UnmarshalChannel([]byte{})
	require.Error(t, err)
	_, err = UnmarshalPayment([]byte("{not json"))
	require.Error(t, err)
}

func TestCheckAppend(t *testing.T) {
	ch := &types.Channel{Status: types.ChannelStatus_Open, NumHashes: 10, LastIndex: 3}

	assert.NoError(t, CheckAppend(ch, &types.Payment{Index: 4}, 3))
	assert.NoError(t, CheckAppend(ch, &types.Payment{Index: 10}, 3))
	assert.ErrorIs(t, CheckAppend(ch, &types.Payment{Index: 4}, 2), ErrWriteConflict)
	assert.ErrorIs(t, CheckAppend(ch, &types.Payment{Index: 3}, 3), types.ErrOutOfOrder)
	assert.ErrorIs(t, CheckAppend(ch, &types.Payment{Index: 11}, 3), types.ErrInvalidProofChain)
	assert.ErrorIs(t, CheckAppend(nil, &types.Payment{Index: 4}, 3), types.ErrChannelNotFound)

	closed := ch.Clone()
	closed.Status = types.ChannelStatus_Closed
	assert.ErrorIs(t, CheckAppend(closed, &types.Payment{Index: 4}, 3), types.ErrChannelClosed)
}

func TestApplyClose(t *testing.T) {
	ch := &types.Channel{ID: "c1", Status: types.ChannelStatus_Open}
	now := time.Now()

	_, err := ApplyClose(ch, &CloseChannelRequest{ChannelID: "c1", ClosedAt: now})
	require.Error(t, err, "settlement tx is required")

	closed, err := ApplyClose(ch, &CloseChannelRequest{ChannelID: "c1", SettlementTx: "0xdead", ClosedAt: now})
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Closed, closed.Status)
	assert.Equal(t, "0xdead", closed.SettlementTx)
	assert.Equal(t, types.ChannelStatus_Open, ch.Status, "input must not be mutated")

	_, err = ApplyClose(closed, &CloseChannelRequest{ChannelID: "c1", SettlementTx: "0xbeef", ClosedAt: now})
	assert.ErrorIs(t, err, types.ErrAlreadyClosed)
}
