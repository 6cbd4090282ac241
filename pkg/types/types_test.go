package types

import (
	"fmt"
	"math"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_AmountOwed(t *testing.T) {
	ch := &Channel{
		NumHashes:   1000,
		LastIndex:   100,
		TotalAmount: big.NewInt(1_000_000_000_000_000_000),
	}
	assert.Equal(t, big.NewInt(100_000_000_000_000_000), ch.AmountOwed())

	ch.LastIndex = 0
	assert.Equal(t, int64(0), ch.AmountOwed().Int64())

	ch.LastIndex = 1000
	assert.Equal(t, ch.TotalAmount, ch.AmountOwed())

	empty := &Channel{}
	assert.Equal(t, int64(0), empty.AmountOwed().Int64())
}

func TestChannel_Clone(t *testing.T) {
	ch := &Channel{ID: "a", TotalAmount: big.NewInt(5)}
	cp := ch.Clone()
	cp.TotalAmount.SetInt64(10)
	cp.ID = "b"
	assert.Equal(t, int64(5), ch.TotalAmount.Int64())
	assert.Equal(t, "a", ch.ID)
}

func TestVendor_AmountPerHashWei(t *testing.T) {
	v := &Vendor{AmountPerHash: decimal.RequireFromString("0.0001")}
	assert.Equal(t, big.NewInt(100_000_000_000_000), v.AmountPerHashWei())
}

func TestChannelFilter_Matches(t *testing.T) {
	sender := common.HexToAddress("0x01")
	ch := &Channel{VendorID: "v1", Sender: sender, Status: ChannelStatus_Open}

	assert.True(t, (*ChannelFilter)(nil).Matches(ch))
	assert.True(t, (&ChannelFilter{VendorID: "v1"}).Matches(ch))
	assert.False(t, (&ChannelFilter{VendorID: "v2"}).Matches(ch))
	assert.True(t, (&ChannelFilter{Sender: &sender}).Matches(ch))
	assert.False(t, (&ChannelFilter{Status: ChannelStatus_Closed}).Matches(ch))
}

func TestPage_Bounds(t *testing.T) {
	tests := []struct {
		name       string
		page       Page
		total      int
		start, end int
	}{
		{"second page", Page{Page: 2, Limit: 10}, 25, 10, 20},
		{"partial last page", Page{Page: 3, Limit: 10}, 25, 20, 25},
		{"past the end", Page{Page: 5, Limit: 10}, 25, 25, 25},
		{"defaults", Page{}, 25, 0, DefaultPageLimit},
		{"empty result", Page{Page: 1, Limit: 10}, 0, 0, 0},
		{"exact boundary", Page{Page: 3, Limit: 10}, 20, 20, 20},
		{"page that would overflow", Page{Page: 4611686018427387905, Limit: 2}, 3, 3, 3},
		{"max int page", Page{Page: math.MaxInt, Limit: MaxPageLimit}, 7, 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.page.Bounds(tt.total)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)

			items := make([]int, tt.total)
			assert.NotPanics(t, func() { _ = items[start:end] })
		})
	}

	p := Page{Limit: 500}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPageLimit, p.Limit)

	pg := NewPagination(Page{}, 25)
	assert.Equal(t, 3, pg.Pages)
}

func TestErrorCode(t *testing.T) {
	wrapped := errors.Wrap(ErrOutOfOrder, "admitting proof")
	assert.Equal(t, "OUT_OF_ORDER", ErrorCode(wrapped))
	assert.Equal(t, http.StatusPaymentRequired, HTTPStatus(wrapped))

	stdWrapped := fmt.Errorf("open: %w", ErrEscrowUnavailable)
	assert.Equal(t, "ESCROW_UNAVAILABLE", ErrorCode(stdWrapped))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(stdWrapped))

	require.Equal(t, "INTERNAL_ERROR", ErrorCode(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xAbC", "0xabc"))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}
