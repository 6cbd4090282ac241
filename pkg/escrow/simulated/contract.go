// Package simulated is an in-process EthWord escrow. It applies the same
// settlement rule as the deployed contract and is used by tests and local
// development servers that have no chain to talk to.
package simulated

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

type deployment struct {
	sender     common.Address
	recipient  common.Address
	tip        common.Hash
	totalWords uint64
	remaining  uint64
	// total is the amount deposited at deployment; the per-word price is
	// fixed against it.
	total   *big.Int
	balance *big.Int
	nonce   uint64
}

// Contract is a set of simulated EthWord deployments keyed by address.
type Contract struct {
	mu          sync.Mutex
	caller      common.Address
	deployments map[common.Address]*deployment
	balances    map[common.Address]*big.Int
	deployed    uint64
	txCount     uint64
}

var _ escrow.IEscrow = (*Contract)(nil)

// NewContract returns an empty simulated chain. caller is the account that
// signs closeChannel, normally the vendor's settlement address.
func NewContract(caller common.Address) *Contract {
	return &Contract{
		caller:      caller,
		deployments: make(map[common.Address]*deployment),
		balances:    make(map[common.Address]*big.Int),
	}
}

// Deploy funds a new escrow from sender to recipient anchored at tip.
func (c *Contract) Deploy(sender, recipient common.Address, wordCount uint64, tip common.Hash, value *big.Int) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deployed++
	addr := crypto.CreateAddress(sender, c.deployed)
	c.deployments[addr] = &deployment{
		sender:     sender,
		recipient:  recipient,
		tip:        tip,
		totalWords: wordCount,
		remaining:  wordCount,
		total:      new(big.Int).Set(value),
		balance:    new(big.Int).Set(value),
	}
	return addr
}

// BalanceOf returns the wei an account has received from closed channels.
func (c *Contract) BalanceOf(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (c *Contract) GetEscrowState(ctx context.Context, contract common.Address) (*escrow.EscrowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deployments[contract]
	if !ok {
		return nil, errors.Wrapf(escrow.ErrContractNotDeployed, "%s", contract.Hex())
	}
	return &escrow.EscrowState{
		Contract:       contract,
		Recipient:      d.recipient,
		Sender:         d.sender,
		Tip:            d.tip,
		TotalWordCount: d.totalWords,
		Balance:        new(big.Int).Set(d.balance),
	}, nil
}

func (c *Contract) SimulateClose(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deployments[contract]
	if !ok {
		return errors.Wrapf(escrow.ErrContractNotDeployed, "%s", contract.Hex())
	}
	_, _, err := c.settle(d, word, wordCount)
	return err
}

func (c *Contract) CloseChannel(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) (*escrow.CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deployments[contract]
	if !ok {
		return nil, errors.Wrapf(escrow.ErrContractNotDeployed, "%s", contract.Hex())
	}
	payout, refund, err := c.settle(d, word, wordCount)
	if err != nil {
		return nil, err
	}

	c.credit(d.recipient, payout)
	c.credit(d.sender, refund)
	d.balance.SetInt64(0)
	d.tip = word
	d.remaining -= wordCount
	d.nonce++
	c.txCount++

	return &escrow.CloseResult{
		TxHash:      crypto.Keccak256Hash(contract.Bytes(), word.Bytes(), []byte(fmt.Sprintf("%d", d.nonce))),
		BlockNumber: c.txCount,
		GasUsed:     21000 + 30*wordCount,
	}, nil
}

// settle validates a close and returns the recipient payout and sender
// refund without mutating anything.
func (c *Contract) settle(d *deployment, word common.Hash, wordCount uint64) (*big.Int, *big.Int, error) {
	if c.caller != d.recipient {
		return nil, nil, escrow.ErrNotRecipient
	}
	if wordCount == 0 {
		return nil, nil, escrow.ErrZeroWordCount
	}
	if wordCount > d.remaining {
		return nil, nil, errors.Wrapf(escrow.ErrWordCountExceeded, "%d > %d", wordCount, d.remaining)
	}
	if hashchain.HashN(word, wordCount) != d.tip {
		return nil, nil, escrow.ErrInvalidWord
	}
	return Payout(d.total, d.balance, wordCount, d.totalWords)
}

func (c *Contract) credit(account common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	b, ok := c.balances[account]
	if !ok {
		b = big.NewInt(0)
		c.balances[account] = b
	}
	b.Add(b, amount)
}

// Payout splits balance for a close redeeming wordCount of totalWords words
// from a deposit of total. The recipient receives total*wordCount/totalWords,
// capped at balance; the sender receives whatever is left.
func Payout(total, balance *big.Int, wordCount, totalWords uint64) (*big.Int, *big.Int, error) {
	if totalWords == 0 {
		return nil, nil, escrow.ErrZeroWordCount
	}
	payout := new(big.Int).Mul(total, new(big.Int).SetUint64(wordCount))
	payout.Div(payout, new(big.Int).SetUint64(totalWords))
	if payout.Cmp(balance) > 0 {
		payout.Set(balance)
	}
	refund := new(big.Int).Sub(balance, payout)
	return payout, refund, nil
}
