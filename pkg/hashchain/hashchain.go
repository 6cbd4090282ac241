package hashchain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// MaxLength bounds chain generation so a single request cannot pin a CPU.
const MaxLength = 10_000_000

var (
	ErrInvalidLength = errors.New("hash chain length must be between 1 and 10000000")
	ErrEmptySecret   = errors.New("secret cannot be empty")
	ErrIndexRange    = errors.New("index is outside the chain")
)

// Link is one revealed chain element tagged with its distance from the tail.
// The tail itself has Index 0; H^Index(Hash) == tail for every genuine link.
type Link struct {
	Hash  common.Hash `json:"hash"`
	Index uint64      `json:"index"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s@%d", l.Hash.Hex(), l.Index)
}

// ParseLink validates untrusted hex and decimal index strings into a Link.
// Hex is accepted with or without the 0x prefix and in any letter case.
func ParseLink(hashHex, index string) (Link, error) {
	h, err := ParseHash(hashHex)
	if err != nil {
		return Link{}, err
	}
	index = strings.TrimSpace(index)
	if index == "" {
		return Link{}, errors.Wrap(types.ErrInvalidProof, "index is empty")
	}
	idx, err := strconv.ParseUint(index, 10, 64)
	if err != nil {
		return Link{}, errors.Wrapf(types.ErrInvalidProof, "index %q is not a non-negative integer", index)
	}
	return Link{Hash: h, Index: idx}, nil
}

// ParseHash decodes a 32-byte hex hash, rejecting anything that is not exactly 64 hex digits.
func ParseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != 2*common.HashLength {
		return common.Hash{}, errors.Wrapf(types.ErrInvalidProof, "hash must be %d hex characters, got %d", 2*common.HashLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, errors.Wrap(types.ErrInvalidProof, "hash is not valid hex")
	}
	return common.BytesToHash(b), nil
}

// Hash is one application of keccak256.
func Hash(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

// HashN applies keccak256 n times to h. HashN(h, 0) == h.
func HashN(h common.Hash, n uint64) common.Hash {
	if n == 0 {
		return h
	}
	hasher := sha3.NewLegacyKeccak256()
	out := h
	buf := make([]byte, 0, common.HashLength)
	for i := uint64(0); i < n; i++ {
		hasher.Reset()
		hasher.Write(out[:])
		buf = hasher.Sum(buf[:0])
		copy(out[:], buf)
	}
	return out
}

// Verify reports whether the later of the two links (by index) hashes to the
// earlier one in exactly the difference of their indices. Equal indices are
// valid only for identical hashes.
func Verify(a, b Link) bool {
	earlier, later := a, b
	if earlier.Index > later.Index {
		earlier, later = later, earlier
	}
	return HashN(later.Hash, later.Index-earlier.Index) == earlier.Hash
}

// Chain is a fully materialized hash chain.
//
// Elements are addressed two ways. Origin index k is H^(k+1)(secret), so
// origin 0 is H(secret) and origin Length is the tail. Tail index i is the
// distance from the tail, so tail index 0 is the tail and tail index Length is
// H(secret). Payments and the ledger use tail indices; the escrow contract
// counts words from the origin side.
type Chain struct {
	origin []common.Hash
}

// Generate computes a chain of length payable links from secret.
func Generate(secret []byte, length uint64) (*Chain, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if length == 0 || length > MaxLength {
		return nil, ErrInvalidLength
	}

	origin := make([]common.Hash, length+1)
	origin[0] = Hash(secret)
	hasher := sha3.NewLegacyKeccak256()
	buf := make([]byte, 0, common.HashLength)
	for k := uint64(1); k <= length; k++ {
		hasher.Reset()
		hasher.Write(origin[k-1][:])
		buf = hasher.Sum(buf[:0])
		copy(origin[k][:], buf)
	}
	return &Chain{origin: origin}, nil
}

// Length is the number of payable links, excluding the tail.
func (c *Chain) Length() uint64 {
	return uint64(len(c.origin) - 1)
}

// Tail is the public commitment deployed to the escrow contract.
func (c *Chain) Tail() common.Hash {
	return c.origin[len(c.origin)-1]
}

// Link returns the element at tail distance i, 0 <= i <= Length.
func (c *Chain) Link(i uint64) (Link, error) {
	if i > c.Length() {
		return Link{}, errors.Wrapf(ErrIndexRange, "tail index %d, length %d", i, c.Length())
	}
	return Link{Hash: c.origin[c.Length()-i], Index: i}, nil
}

// AtOrigin returns H^(k+1)(secret), 0 <= k <= Length.
func (c *Chain) AtOrigin(k uint64) (common.Hash, error) {
	if k > c.Length() {
		return common.Hash{}, errors.Wrapf(ErrIndexRange, "origin index %d, length %d", k, c.Length())
	}
	return c.origin[k], nil
}

// OriginIndex converts a tail index into an origin index for a chain of the
// given length. tailIndex must not exceed length.
func OriginIndex(length, tailIndex uint64) (uint64, error) {
	if tailIndex > length {
		return 0, errors.Wrapf(ErrIndexRange, "tail index %d, length %d", tailIndex, length)
	}
	return length - tailIndex, nil
}

// TailIndex converts an origin index into a tail index for a chain of the
// given length. originIndex must not exceed length.
func TailIndex(length, originIndex uint64) (uint64, error) {
	if originIndex > length {
		return 0, errors.Wrapf(ErrIndexRange, "origin index %d, length %d", originIndex, length)
	}
	return length - originIndex, nil
}

// WordCountForOrigin is the closeChannel wordCount for the word at originIndex.
func WordCountForOrigin(numHashes, originIndex uint64) (uint64, error) {
	if originIndex > numHashes {
		return 0, errors.Wrapf(ErrIndexRange, "origin index %d, %d hashes", originIndex, numHashes)
	}
	return numHashes - originIndex, nil
}
