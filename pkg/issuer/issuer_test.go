package issuer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testVendor = VendorInfo{
		Address:       common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		ChainID:       31337,
		AmountPerHash: decimal.RequireFromString("0.0001"),
	}
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func forEachStore(t *testing.T, fn func(t *testing.T, iss *Issuer)) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore(t.TempDir(), l)
			require.NoError(t, err)
			return s
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			iss, err := NewIssuer(store, &config.IssuerConfig{ProofTimeout: time.Second}, l)
			require.NoError(t, err)
			fn(t, iss)
		})
	}
}

func TestIssuer_NextWalksTowardsTheSecret(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("issuer-secret"), 5, testVendor)
		require.NoError(t, err)

		expected, err := hashchain.Generate([]byte("issuer-secret"), 5)
		require.NoError(t, err)

		summary, err := iss.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, expected.Tail(), summary.Tail)
		assert.True(t, summary.HasSecret)

		prev := hashchain.Link{Hash: expected.Tail(), Index: 0}
		for i := uint64(1); i <= 5; i++ {
			link, err := iss.Next(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, i, link.Index)
			assert.Equal(t, prev.Hash, hashchain.Hash(link.Hash.Bytes()))
			prev = link
		}

		_, err = iss.Next(ctx, id)
		assert.ErrorIs(t, err, types.ErrChainExhausted)

		idx, err := iss.CurrentIndex(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), idx)
	})
}

func TestIssuer_ConcurrentNextNeverRepeats(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("concurrent"), 40, testVendor)
		require.NoError(t, err)

		var (
			mu   sync.Mutex
			seen = make(map[uint64]bool)
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 10; n++ {
					link, err := iss.Next(ctx, id)
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					assert.False(t, seen[link.Index], "index %d issued twice", link.Index)
					seen[link.Index] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 40)
	})
}

func TestIssuer_ImmutableAfterDeployment(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("immutable"), 10, testVendor)
		require.NoError(t, err)

		_, err = iss.Next(ctx, id)
		require.NoError(t, err)

		summary, err := iss.UpdateNumHashes(ctx, id, 20)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), summary.NumHashes)
		assert.Equal(t, uint64(0), summary.LastIndex)
		regenerated, err := hashchain.Generate([]byte("immutable"), 20)
		require.NoError(t, err)
		assert.Equal(t, regenerated.Tail(), summary.Tail)

		_, err = iss.IssueProofForRequest(ctx, id)
		assert.ErrorIs(t, err, ErrNoContract)

		_, err = iss.AttachContract(ctx, id, testContract, big.NewInt(1000))
		require.NoError(t, err)

		_, err = iss.UpdateNumHashes(ctx, id, 30)
		assert.ErrorIs(t, err, types.ErrImmutableAfterDeployment)
		_, err = iss.AttachContract(ctx, id, common.HexToAddress("0x01"), nil)
		assert.ErrorIs(t, err, types.ErrImmutableAfterDeployment)

		proof, err := iss.IssueProofForRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testContract, proof.Contract)
		assert.Equal(t, uint64(1), proof.Link.Index)
		assert.True(t, hashchain.Verify(proof.Link, hashchain.Link{Hash: regenerated.Tail(), Index: 0}))
	})
}

func TestIssuer_SyncIndexOnlyMovesForward(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("sync"), 10, testVendor)
		require.NoError(t, err)

		idx, err := iss.SyncIndex(ctx, id, 6)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), idx)

		idx, err = iss.SyncIndex(ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), idx)

		_, err = iss.SyncIndex(ctx, id, 11)
		assert.ErrorIs(t, err, types.ErrInvalidRequest)

		link, err := iss.Next(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), link.Index)
	})
}

func TestIssuer_ExportImport(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("backup"), 8, testVendor)
		require.NoError(t, err)
		_, err = iss.SyncIndex(ctx, id, 3)
		require.NoError(t, err)

		exported, err := iss.Export(ctx, id)
		require.NoError(t, err)

		importedID, err := iss.Import(ctx, exported)
		require.NoError(t, err)
		assert.NotEqual(t, id, importedID)

		link, err := iss.Next(ctx, importedID)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), link.Index)

		tampered := exported.Clone()
		tampered.Secret = []byte("someone else")
		_, err = iss.Import(ctx, tampered)
		assert.ErrorIs(t, err, types.ErrInvalidRequest)

		all, err := iss.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, iss.Delete(ctx, id))
		_, err = iss.Get(ctx, id)
		assert.ErrorIs(t, err, ErrChainNotFound)
	})
}

func TestIssuer_IssueProofRespectsCancellation(t *testing.T) {
	forEachStore(t, func(t *testing.T, iss *Issuer) {
		ctx := context.Background()
		id, err := iss.CreateChain(ctx, []byte("cancel"), 4, testVendor)
		require.NoError(t, err)
		_, err = iss.AttachContract(ctx, id, testContract, nil)
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = iss.IssueProofForRequest(cancelled, id)
		assert.ErrorIs(t, err, context.Canceled)

		idx, err := iss.CurrentIndex(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), idx)
	})
}

func TestBadgerStore_SurvivesRestart(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir, l)
	require.NoError(t, err)
	iss, err := NewIssuer(store, nil, l)
	require.NoError(t, err)
	id, err := iss.CreateChain(ctx, []byte("durable"), 6, testVendor)
	require.NoError(t, err)
	_, err = iss.Next(ctx, id)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir, l)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	iss, err = NewIssuer(reopened, nil, l)
	require.NoError(t, err)

	link, err := iss.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), link.Index)

	summary, err := iss.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, testVendor.AmountPerHash.Equal(summary.Vendor.AmountPerHash))
}
