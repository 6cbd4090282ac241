package testutil

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/issuer"
	"github.com/Layr-Labs/payword-channels-go/pkg/streamclient"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVendor_StreamThenSettle(t *testing.T) {
	ctx := context.Background()
	segments := map[string][]byte{
		"movie/index.m3u8": []byte("#EXTM3U\n"),
		"movie/seg0.ts":    []byte("seg-0"),
		"movie/seg1.ts":    []byte("seg-1"),
	}
	tv := NewTestVendor(t, segments, "0.0001")

	iss, err := issuer.NewIssuer(issuer.NewMemoryStore(), &config.IssuerConfig{ProofTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	chainID, err := iss.CreateChain(ctx, []byte("viewer-secret"), 100, issuer.VendorInfo{
		Address:       VendorAddress,
		ChainID:       TestChainID,
		AmountPerHash: tv.Vendor.AmountPerHash,
	})
	require.NoError(t, err)
	summary, err := iss.Get(ctx, chainID)
	require.NoError(t, err)

	deposit := big.NewInt(1_000_000)
	ch := tv.DeployChannel(t, summary.NumHashes, summary.Tail, deposit)
	_, err = iss.AttachContract(ctx, chainID, ch.ContractAddress, deposit)
	require.NoError(t, err)

	client, err := streamclient.NewClient(&streamclient.ClientConfig{
		BaseURL: tv.URL,
		ChainID: chainID,
		Issuer:  iss,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	for _, p := range []string{"hls/movie/index.m3u8", "hls/movie/seg0.ts", "hls/movie/seg1.ts"} {
		seg, err := client.FetchSegment(ctx, p)
		require.NoError(t, err, p)
		assert.Equal(t, segments[strings.TrimPrefix(p, "hls/")], seg.Body)
	}
	assert.Equal(t, "video/mp2t", func() string {
		seg, err := client.FetchSegment(ctx, "hls/movie/seg0.ts")
		require.NoError(t, err)
		return seg.ContentType
	}())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/channels/%s/settle", tv.URL, ch.ID),
		strings.NewReader(fmt.Sprintf(`{"vendorId":%q}`, tv.Vendor.ID)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+TestAdminKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// four links out of 100
	assert.Equal(t, big.NewInt(40_000), tv.Escrow.BalanceOf(VendorAddress))
	assert.Equal(t, big.NewInt(960_000), tv.Escrow.BalanceOf(SenderAddress))

	closed, err := tv.Channels.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChannelStatus_Closed, closed.Status)
	assert.Equal(t, uint64(4), closed.LastIndex)

	_, err = client.FetchSegment(ctx, "hls/movie/seg1.ts")
	assert.ErrorIs(t, err, types.ErrChannelClosed)
}

func TestVendor_MissingSegmentIsFree(t *testing.T) {
	ctx := context.Background()
	tv := NewTestVendor(t, map[string][]byte{"a.ts": []byte("a")}, "0.0001")

	iss, err := issuer.NewIssuer(issuer.NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)
	chainID, err := iss.CreateChain(ctx, []byte("free-miss"), 10, issuer.VendorInfo{Address: VendorAddress, ChainID: TestChainID})
	require.NoError(t, err)
	summary, err := iss.Get(ctx, chainID)
	require.NoError(t, err)
	ch := tv.DeployChannel(t, 10, summary.Tail, big.NewInt(1000))
	_, err = iss.AttachContract(ctx, chainID, ch.ContractAddress, big.NewInt(1000))
	require.NoError(t, err)

	client, err := streamclient.NewClient(&streamclient.ClientConfig{BaseURL: tv.URL, ChainID: chainID, Issuer: iss, Logger: zap.NewNop()})
	require.NoError(t, err)

	_, err = client.FetchSegment(ctx, "hls/missing.ts")
	var rejection *streamclient.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, http.StatusNotFound, rejection.Status)

	// the link spent on the miss was never recorded, so the vendor is
	// still at 0 and the client catches back up
	after, err := tv.Channels.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), after.LastIndex)

	seg, err := client.FetchSegment(ctx, "hls/a.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), seg.Body)
	assert.Equal(t, uint64(2), seg.Proof.Link.Index)
}
