package streamclient

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/admission"
	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow/simulated"
	"github.com/Layr-Labs/payword-channels-go/pkg/issuer"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/Layr-Labs/payword-channels-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	vendorAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type harness struct {
	client   *Client
	issuer   *issuer.Issuer
	chainID  string
	channels *channel.Service
	channel  *types.Channel
}

func newHarness(t *testing.T, length uint64) *harness {
	t.Helper()
	ctx := context.Background()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })
	esc := simulated.NewContract(vendorAddr)
	channels := channel.NewService(store, esc, l)
	lg := ledger.NewLedger(store, l)
	gate, err := admission.NewGate(store, lg, nil, l)
	require.NoError(t, err)

	vendor, err := channels.CreateVendor(ctx, &channel.CreateVendorRequest{
		ChainID:       31337,
		Address:       vendorAddr.Hex(),
		AmountPerHash: decimal.RequireFromString("0.0001"),
	})
	require.NoError(t, err)

	iss, err := issuer.NewIssuer(issuer.NewMemoryStore(), &config.IssuerConfig{ProofTimeout: time.Second}, l)
	require.NoError(t, err)
	chainID, err := iss.CreateChain(ctx, []byte("stream-secret"), length, issuer.VendorInfo{
		Address:       vendorAddr,
		ChainID:       31337,
		AmountPerHash: vendor.AmountPerHash,
	})
	require.NoError(t, err)
	summary, err := iss.Get(ctx, chainID)
	require.NoError(t, err)

	deposit := big.NewInt(1_000_000)
	contract := esc.Deploy(senderAddr, vendorAddr, length, summary.Tail, deposit)
	_, err = iss.AttachContract(ctx, chainID, contract, deposit)
	require.NoError(t, err)
	ch, err := channels.Open(ctx, &channel.OpenRequest{VendorID: vendor.ID, ContractAddress: contract})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /hls/", gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("segment:" + r.URL.Path))
	})))
	mux.HandleFunc("GET /channels", func(w http.ResponseWriter, r *http.Request) {
		found, err := channels.GetByContract(r.Context(), common.HexToAddress(r.URL.Query().Get("contract")))
		if err != nil {
			util.WriteError(w, l, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, found)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(&ClientConfig{BaseURL: srv.URL, ChainID: chainID, Issuer: iss, Logger: l})
	require.NoError(t, err)

	return &harness{client: client, issuer: iss, chainID: chainID, channels: channels, channel: ch}
}

func TestClient_FetchSegmentPaysPerSegment(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seg, err := h.client.FetchSegment(ctx, "/hls/stream/seg.ts")
		require.NoError(t, err)
		assert.Equal(t, "segment:/hls/stream/seg.ts", string(seg.Body))
		assert.Equal(t, "video/mp2t", seg.ContentType)
		assert.Equal(t, uint64(i), seg.Proof.Link.Index)
	}

	ch, err := h.channels.Get(ctx, h.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ch.LastIndex)

	_, err = h.client.FetchSegment(ctx, "/hls/stream/seg.ts")
	assert.ErrorIs(t, err, types.ErrChainExhausted)
}

func TestClient_RejectionUnwrapsToDomainError(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	// skip ahead so the vendor ledger sits at index 5
	_, err := h.issuer.SyncIndex(ctx, h.chainID, 4)
	require.NoError(t, err)
	_, err = h.client.FetchSegment(ctx, "hls/a.ts")
	require.NoError(t, err)

	exported, err := h.issuer.Export(ctx, h.chainID)
	require.NoError(t, err)
	exported.LastIndex = 2
	replayID, err := h.issuer.Import(ctx, exported)
	require.NoError(t, err)

	stale, err := NewClient(&ClientConfig{BaseURL: h.client.baseURL.String(), ChainID: replayID, Issuer: h.issuer, Logger: zap.NewNop()})
	require.NoError(t, err)
	_, err = stale.FetchSegment(ctx, "hls/a.ts")

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, http.StatusPaymentRequired, rejection.Status)
	assert.Equal(t, "OUT_OF_ORDER", rejection.Code)
	assert.ErrorIs(t, err, types.ErrOutOfOrder)
}

func TestClient_SyncIndexCatchesUp(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.client.FetchSegment(ctx, "/hls/x.ts")
		require.NoError(t, err)
	}

	exported, err := h.issuer.Export(ctx, h.chainID)
	require.NoError(t, err)
	exported.LastIndex = 0
	otherID, err := h.issuer.Import(ctx, exported)
	require.NoError(t, err)

	other, err := NewClient(&ClientConfig{BaseURL: h.client.baseURL.String(), ChainID: otherID, Issuer: h.issuer, Logger: zap.NewNop()})
	require.NoError(t, err)

	idx, err := other.SyncIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), idx)

	seg, err := other.FetchSegment(ctx, "/hls/x.ts")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seg.Proof.Link.Index)
}

func TestNewClient_ValidationErrors(t *testing.T) {
	iss, err := issuer.NewIssuer(issuer.NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name        string
		config      *ClientConfig
		expectedErr string
	}{
		{"nil config", nil, "config cannot be nil"},
		{"empty base URL", &ClientConfig{ChainID: "c", Issuer: iss, Logger: zap.NewNop()}, "base URL is required"},
		{"empty chain", &ClientConfig{BaseURL: "http://vendor", Issuer: iss, Logger: zap.NewNop()}, "hash chain ID is required"},
		{"nil issuer", &ClientConfig{BaseURL: "http://vendor", ChainID: "c", Logger: zap.NewNop()}, "issuer is required"},
		{"nil logger", &ClientConfig{BaseURL: "http://vendor", ChainID: "c", Issuer: iss}, "logger is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			assert.Nil(t, client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}
