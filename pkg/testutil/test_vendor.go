package testutil

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/admission"
	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow/simulated"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payword-channels-go/pkg/server"
	"github.com/Layr-Labs/payword-channels-go/pkg/settlement"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TestAdminKey = "test-admin-key"
	TestChainID  = 31337
)

var (
	// Anvil's first two default accounts.
	VendorAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	SenderAddress = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// TestVendor is a complete vendor server over in-memory persistence and a
// simulated escrow, served by httptest.
type TestVendor struct {
	Server   *httptest.Server
	URL      string
	Escrow   *simulated.Contract
	Channels *channel.Service
	Settler  *settlement.Settler
	Vendor   *types.Vendor
	Content  fstest.MapFS
	logger   *zap.Logger
}

// NewTestVendor starts a vendor that sells the given segments. A vendor
// record for VendorAddress is registered at amountPerHash ETH.
func NewTestVendor(t *testing.T, segments map[string][]byte, amountPerHash string) *TestVendor {
	t.Helper()

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	store := memory.NewMemoryPersistence()
	esc := simulated.NewContract(VendorAddress)
	channels := channel.NewService(store, esc, l)
	lg := ledger.NewLedger(store, l)
	gate, err := admission.NewGate(store, lg, nil, l)
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	settler := settlement.NewSettler(lg, channels, esc, time.Minute, l)

	content := fstest.MapFS{}
	for name, data := range segments {
		content[name] = &fstest.MapFile{Data: data, ModTime: time.Unix(1700000000, 0)}
	}

	srv, err := server.NewServer(&server.Config{
		Port:        8080,
		AdminAPIKey: TestAdminKey,
		CanSettle:   true,
	}, channels, settler, gate, content, l)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	vendor, err := channels.CreateVendor(context.Background(), &channel.CreateVendorRequest{
		ChainID:       TestChainID,
		Address:       VendorAddress.Hex(),
		AmountPerHash: decimal.RequireFromString(amountPerHash),
	})
	if err != nil {
		t.Fatalf("Failed to create vendor: %v", err)
	}

	httpServer := httptest.NewServer(srv.GetHandler())
	tv := &TestVendor{
		Server:   httpServer,
		URL:      httpServer.URL,
		Escrow:   esc,
		Channels: channels,
		Settler:  settler,
		Vendor:   vendor,
		Content:  content,
		logger:   l,
	}
	t.Cleanup(func() {
		tv.Close()
		_ = store.Close()
	})
	return tv
}

// DeployChannel funds an escrow from SenderAddress anchored at tail and
// opens the matching channel.
func (tv *TestVendor) DeployChannel(t *testing.T, length uint64, tail common.Hash, deposit *big.Int) *types.Channel {
	t.Helper()
	contract := tv.Escrow.Deploy(SenderAddress, VendorAddress, length, tail, deposit)
	ch, err := tv.Channels.Open(context.Background(), &channel.OpenRequest{
		VendorID:        tv.Vendor.ID,
		ContractAddress: contract,
	})
	if err != nil {
		t.Fatalf("Failed to open channel: %v", err)
	}
	tv.logger.Sugar().Debugw("Deployed test channel", "channelId", ch.ID, "contract", contract.Hex())
	return ch
}

// Close shuts down the test server
func (tv *TestVendor) Close() {
	if tv.Server != nil {
		tv.Server.Close()
	}
}
