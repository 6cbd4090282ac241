package hashchain

import (
	"strconv"
	"strings"
	"testing"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("correct horse battery staple")

func TestHashN_MatchesRepeatedKeccak(t *testing.T) {
	h := crypto.Keccak256Hash([]byte("seed"))
	expected := h
	for i := 0; i < 5; i++ {
		expected = crypto.Keccak256Hash(expected.Bytes())
	}
	assert.Equal(t, expected, HashN(h, 5))
	assert.Equal(t, h, HashN(h, 0))
}

func TestGenerate(t *testing.T) {
	t.Run("chain consistency", func(t *testing.T) {
		chain, err := Generate(testSecret, 50)
		require.NoError(t, err)
		require.Equal(t, uint64(50), chain.Length())

		first, err := chain.AtOrigin(0)
		require.NoError(t, err)
		assert.Equal(t, crypto.Keccak256Hash(testSecret), first)

		for i := uint64(1); i <= chain.Length(); i++ {
			link, err := chain.Link(i)
			require.NoError(t, err)
			prev, err := chain.Link(i - 1)
			require.NoError(t, err)
			assert.Equal(t, prev.Hash, Hash(link.Hash.Bytes()), "link %d must hash to link %d", i, i-1)
			assert.Equal(t, chain.Tail(), HashN(link.Hash, i))
		}

		tail, err := chain.Link(0)
		require.NoError(t, err)
		assert.Equal(t, chain.Tail(), tail.Hash)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := Generate(testSecret, 10)
		require.NoError(t, err)
		b, err := Generate(testSecret, 10)
		require.NoError(t, err)
		assert.Equal(t, a.Tail(), b.Tail())
	})

	t.Run("tail is H^(length+1)(secret)", func(t *testing.T) {
		chain, err := Generate(testSecret, 10)
		require.NoError(t, err)
		assert.Equal(t, HashN(crypto.Keccak256Hash(testSecret), 10), chain.Tail())
	})

	t.Run("rejects zero length", func(t *testing.T) {
		_, err := Generate(testSecret, 0)
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := Generate(nil, 10)
		assert.ErrorIs(t, err, ErrEmptySecret)
	})

	t.Run("out of range", func(t *testing.T) {
		chain, err := Generate(testSecret, 3)
		require.NoError(t, err)
		_, err = chain.Link(4)
		assert.ErrorIs(t, err, ErrIndexRange)
		_, err = chain.AtOrigin(4)
		assert.ErrorIs(t, err, ErrIndexRange)
	})
}

func TestVerify(t *testing.T) {
	chain, err := Generate(testSecret, 20)
	require.NoError(t, err)
	tail, _ := chain.Link(0)
	l3, _ := chain.Link(3)
	l5, _ := chain.Link(5)
	l7, _ := chain.Link(7)

	assert.True(t, Verify(l5, tail))
	assert.True(t, Verify(tail, l5), "argument order does not matter")
	assert.True(t, Verify(l7, l3))
	assert.True(t, Verify(l5, l5))

	t.Run("single bit flip fails", func(t *testing.T) {
		flipped := l5
		flipped.Hash[31] ^= 0x01
		assert.False(t, Verify(flipped, l3))
		assert.False(t, Verify(flipped, tail))
	})

	t.Run("wrong index fails", func(t *testing.T) {
		assert.False(t, Verify(Link{Hash: l5.Hash, Index: 6}, l3))
	})

	t.Run("same index different hash fails", func(t *testing.T) {
		assert.False(t, Verify(Link{Hash: l3.Hash, Index: 5}, l5))
	})
}

func TestSettlementIndexConversion(t *testing.T) {
	const length = 1000
	chain, err := Generate(testSecret, length)
	require.NoError(t, err)

	word, err := chain.AtOrigin(900)
	require.NoError(t, err)
	wordCount, err := WordCountForOrigin(length, 900)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), wordCount)
	assert.Equal(t, chain.Tail(), HashN(word, wordCount))

	tailIdx, err := TailIndex(length, 900)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tailIdx)
	link, err := chain.Link(tailIdx)
	require.NoError(t, err)
	assert.Equal(t, word, link.Hash)
	origin, err := OriginIndex(length, tailIdx)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), origin)
}

func TestIndexConversionBounds(t *testing.T) {
	tests := []struct {
		name    string
		convert func(uint64, uint64) (uint64, error)
	}{
		{"origin", OriginIndex},
		{"tail", TailIndex},
		{"word count", WordCountForOrigin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.convert(10, 10)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), got)

			got, err = tt.convert(10, 0)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), got)

			_, err = tt.convert(10, 11)
			assert.ErrorIs(t, err, ErrIndexRange)
		})
	}
}

func TestParseLink(t *testing.T) {
	h := crypto.Keccak256Hash([]byte("x"))

	t.Run("accepts prefixed and mixed case", func(t *testing.T) {
		l, err := ParseLink(strings.ToUpper(h.Hex()[2:]), "7")
		require.NoError(t, err)
		assert.Equal(t, Link{Hash: h, Index: 7}, l)

		l, err = ParseLink(h.Hex(), " 7 ")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), l.Index)
	})

	tests := []struct {
		name  string
		hash  string
		index string
	}{
		{"short hash", "0x1234", "1"},
		{"non hex", "0x" + strings.Repeat("zz", 32), "1"},
		{"empty index", h.Hex(), ""},
		{"negative index", h.Hex(), "-1"},
		{"fractional index", h.Hex(), "1.5"},
		{"overflow index", h.Hex(), "18446744073709551616"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLink(tt.hash, tt.index)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidProof))
		})
	}
}

func FuzzParseLink(f *testing.F) {
	f.Add(common.Hash{}.Hex(), "1")
	f.Add("0xzz", "abc")
	f.Fuzz(func(t *testing.T, hashHex, index string) {
		l, err := ParseLink(hashHex, index)
		if err != nil {
			return
		}
		again, err := ParseLink(l.Hash.Hex(), strconv.FormatUint(l.Index, 10))
		require.NoError(t, err)
		assert.Equal(t, l, again)
	})
}

func BenchmarkGenerate_10k(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Generate(testSecret, 10_000)
	}
}

func BenchmarkHashN_1k(b *testing.B) {
	h := crypto.Keccak256Hash(testSecret)
	for i := 0; i < b.N; i++ {
		_ = HashN(h, 1_000)
	}
}
