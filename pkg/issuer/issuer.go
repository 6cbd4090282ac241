// Package issuer is the sender side of a channel. It owns chain secrets,
// hands out links in payment order and remembers how far each chain has
// been spent.
package issuer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultProofTimeout = 5 * time.Second

	chainCacheSize = 16
)

type Issuer struct {
	store        Store
	chains       *lru.Cache[string, *hashchain.Chain]
	proofTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewIssuer(store Store, cfg *config.IssuerConfig, logger *zap.Logger) (*Issuer, error) {
	timeout := DefaultProofTimeout
	if cfg != nil && cfg.ProofTimeout > 0 {
		timeout = cfg.ProofTimeout
	}
	chains, err := lru.New[string, *hashchain.Chain](chainCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain cache: %w", err)
	}
	return &Issuer{
		store:        store,
		chains:       chains,
		proofTimeout: timeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func cacheKey(id string, numHashes uint64) string {
	return fmt.Sprintf("%s/%d", id, numHashes)
}

// chain returns the materialized chain for rec, regenerating it from the
// secret on a cache miss.
func (i *Issuer) chain(rec *Record) (*hashchain.Chain, error) {
	key := cacheKey(rec.ID, rec.NumHashes)
	if c, ok := i.chains.Get(key); ok {
		return c, nil
	}
	c, err := hashchain.Generate(rec.Secret, rec.NumHashes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to generate hash chain %s", rec.ID)
	}
	if c.Tail() != rec.Tail {
		return nil, errors.Errorf("hash chain %s: secret does not produce stored tail %s", rec.ID, rec.Tail.Hex())
	}
	i.chains.Add(key, c)
	return c, nil
}

// CreateChain generates a chain of length links for vendor and returns its ID.
func (i *Issuer) CreateChain(ctx context.Context, secret []byte, length uint64, vendor VendorInfo) (string, error) {
	c, err := hashchain.Generate(secret, length)
	if err != nil {
		return "", err
	}
	now := i.now()
	rec := &Record{
		ID:        uuid.New().String(),
		Vendor:    vendor,
		Secret:    append([]byte(nil), secret...),
		NumHashes: length,
		Tail:      c.Tail(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := i.store.Create(ctx, rec); err != nil {
		return "", err
	}
	i.chains.Add(cacheKey(rec.ID, rec.NumHashes), c)

	i.logger.Sugar().Infow("Hash chain created",
		"chainId", rec.ID,
		"vendor", vendor.Address.Hex(),
		"numHashes", length,
		"tail", rec.Tail.Hex(),
	)
	return rec.ID, nil
}

func (i *Issuer) Get(ctx context.Context, id string) (*Summary, error) {
	rec, err := i.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Summary(), nil
}

func (i *Issuer) List(ctx context.Context) ([]*Summary, error) {
	records, err := i.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Summary())
	}
	return out, nil
}

func (i *Issuer) CurrentIndex(ctx context.Context, id string) (uint64, error) {
	rec, err := i.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.LastIndex, nil
}

// Next reserves the link after the last one handed out. A reserved link is
// never handed out again, even if the caller fails to spend it.
func (i *Issuer) Next(ctx context.Context, id string) (hashchain.Link, error) {
	rec, err := i.store.Update(ctx, id, func(rec *Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.LastIndex >= rec.NumHashes {
			return types.ErrChainExhausted
		}
		rec.LastIndex++
		rec.UpdatedAt = i.now()
		return nil
	})
	if err != nil {
		return hashchain.Link{}, err
	}
	c, err := i.chain(rec)
	if err != nil {
		return hashchain.Link{}, err
	}
	return c.Link(rec.LastIndex)
}

// UpdateNumHashes regenerates the chain with a new length and starts it over.
func (i *Issuer) UpdateNumHashes(ctx context.Context, id string, numHashes uint64) (*Summary, error) {
	var oldLength uint64
	rec, err := i.store.Update(ctx, id, func(rec *Record) error {
		if rec.Contract != nil {
			return types.ErrImmutableAfterDeployment
		}
		c, err := hashchain.Generate(rec.Secret, numHashes)
		if err != nil {
			return err
		}
		oldLength = rec.NumHashes
		rec.NumHashes = numHashes
		rec.LastIndex = 0
		rec.Tail = c.Tail()
		rec.UpdatedAt = i.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	i.chains.Remove(cacheKey(id, oldLength))

	i.logger.Sugar().Infow("Hash chain regenerated",
		"chainId", id,
		"numHashes", numHashes,
		"tail", rec.Tail.Hex(),
	)
	return rec.Summary(), nil
}

// AttachContract records the escrow deployed for the chain. The chain is
// frozen from then on.
func (i *Issuer) AttachContract(ctx context.Context, id string, contract common.Address, totalAmount *big.Int) (*Summary, error) {
	if contract == (common.Address{}) {
		return nil, errors.Wrap(types.ErrInvalidRequest, "contract address is required")
	}
	rec, err := i.store.Update(ctx, id, func(rec *Record) error {
		if rec.Contract != nil {
			return errors.Wrapf(types.ErrImmutableAfterDeployment, "already attached to %s", rec.Contract.Hex())
		}
		rec.Contract = &contract
		if totalAmount != nil {
			rec.TotalAmount = new(big.Int).Set(totalAmount)
		}
		rec.UpdatedAt = i.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	i.logger.Sugar().Infow("Contract attached to hash chain", "chainId", id, "contract", contract.Hex())
	return rec.Summary(), nil
}

// SyncIndex moves LastIndex forward to index, typically after the vendor
// reports a higher accepted payment than the local record. It never moves
// the index backwards.
func (i *Issuer) SyncIndex(ctx context.Context, id string, index uint64) (uint64, error) {
	rec, err := i.store.Update(ctx, id, func(rec *Record) error {
		if index > rec.NumHashes {
			return errors.Wrapf(types.ErrInvalidRequest, "index %d beyond chain length %d", index, rec.NumHashes)
		}
		if index > rec.LastIndex {
			rec.LastIndex = index
			rec.UpdatedAt = i.now()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.LastIndex, nil
}

// IssueProofForRequest reserves the next link for a content request bound
// to the chain's contract. It gives up after the configured proof timeout.
func (i *Issuer) IssueProofForRequest(ctx context.Context, id string) (*Proof, error) {
	ctx, cancel := context.WithTimeout(ctx, i.proofTimeout)
	defer cancel()

	rec, err := i.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Contract == nil {
		return nil, errors.Wrapf(ErrNoContract, "chain %s", id)
	}

	link, err := i.Next(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Proof{ChainID: id, Contract: *rec.Contract, Link: link}, nil
}

// Export returns the full record, secret included, for backup.
func (i *Issuer) Export(ctx context.Context, id string) (*Record, error) {
	return i.store.Get(ctx, id)
}

// Import stores an exported record under a new ID. The secret must
// reproduce the recorded tail.
func (i *Issuer) Import(ctx context.Context, exported *Record) (string, error) {
	if exported == nil {
		return "", errors.Wrap(types.ErrInvalidRequest, "nothing to import")
	}
	if exported.LastIndex > exported.NumHashes {
		return "", errors.Wrapf(types.ErrInvalidRequest, "lastIndex %d beyond chain length %d", exported.LastIndex, exported.NumHashes)
	}
	c, err := hashchain.Generate(exported.Secret, exported.NumHashes)
	if err != nil {
		return "", err
	}
	if exported.Tail != (common.Hash{}) && exported.Tail != c.Tail() {
		return "", errors.Wrapf(types.ErrInvalidRequest, "secret does not produce tail %s", exported.Tail.Hex())
	}

	rec := exported.Clone()
	rec.ID = uuid.New().String()
	rec.Tail = c.Tail()
	rec.CreatedAt = i.now()
	rec.UpdatedAt = rec.CreatedAt
	if err := i.store.Create(ctx, rec); err != nil {
		return "", err
	}
	i.chains.Add(cacheKey(rec.ID, rec.NumHashes), c)
	return rec.ID, nil
}

func (i *Issuer) Delete(ctx context.Context, id string) error {
	rec, err := i.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := i.store.Delete(ctx, id); err != nil {
		return err
	}
	i.chains.Remove(cacheKey(id, rec.NumHashes))
	return nil
}
