package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Request headers carrying a payment proof alongside a content request.
const (
	HeaderHash            = "X-Hash"
	HeaderHashIndex       = "X-Hash-Index"
	HeaderContractAddress = "X-Smart-Contract-Address"
)

var weiPerEther = decimal.New(1, 18)

// Vendor is a content seller that receives channel payouts at Address.
type Vendor struct {
	ID      string         `json:"id"`
	ChainID uint64         `json:"chainId"`
	Address common.Address `json:"address"`
	// AmountPerHash is the advertised price of one link, in ether.
	AmountPerHash decimal.Decimal `json:"amountPerHash"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AmountPerHashWei converts the advertised per-link price into wei, truncating sub-wei precision.
func (v *Vendor) AmountPerHashWei() *big.Int {
	return v.AmountPerHash.Mul(weiPerEther).Truncate(0).BigInt()
}

// Clone returns a deep copy of the vendor.
func (v *Vendor) Clone() *Vendor {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type ChannelStatus string

const (
	ChannelStatus_Open   ChannelStatus = "OPEN"
	ChannelStatus_Closed ChannelStatus = "CLOSED"
)

func (s ChannelStatus) String() string {
	return string(s)
}

// Channel is the off-chain mirror of one funded EthWord escrow.
//
// LastIndex is the tail distance of the highest accepted link: 0 before the
// first payment, NumHashes once the chain is spent.
type Channel struct {
	ID              string         `json:"id"`
	VendorID        string         `json:"vendorId"`
	Sender          common.Address `json:"sender"`
	Recipient       common.Address `json:"recipient"`
	ContractAddress common.Address `json:"contractAddress"`
	NumHashes       uint64         `json:"numHashes"`
	LastIndex       uint64         `json:"lastIndex"`
	Tail            common.Hash    `json:"tail"`
	TotalAmount     *big.Int       `json:"totalAmount"`
	Status          ChannelStatus  `json:"status"`
	SettlementTx    string         `json:"settlementTx,omitempty"`
	ClosedAt        *time.Time     `json:"closedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (c *Channel) IsOpen() bool {
	return c.Status == ChannelStatus_Open
}

// IsExhausted reports whether every link of the chain has been accepted.
func (c *Channel) IsExhausted() bool {
	return c.LastIndex >= c.NumHashes
}

// AmountOwed is TotalAmount * LastIndex / NumHashes in wei. It depends only on
// the highest accepted index, never on the number of payment records.
func (c *Channel) AmountOwed() *big.Int {
	if c.NumHashes == 0 || c.TotalAmount == nil {
		return big.NewInt(0)
	}
	owed := new(big.Int).Mul(c.TotalAmount, new(big.Int).SetUint64(c.LastIndex))
	return owed.Div(owed, new(big.Int).SetUint64(c.NumHashes))
}

// Clone returns a deep copy of the channel.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	cp := *c
	if c.TotalAmount != nil {
		cp.TotalAmount = new(big.Int).Set(c.TotalAmount)
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// Payment records one accepted link.
type Payment struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channelId"`
	VendorID  string      `json:"vendorId"`
	Hash      common.Hash `json:"hash"`
	Index     uint64      `json:"index"`
	// Amount is the vendor's per-link price in wei at the time of acceptance.
	Amount    *big.Int  `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Amount != nil {
		cp.Amount = new(big.Int).Set(p.Amount)
	}
	return &cp
}

// ChannelFilter narrows channel listings. Zero values match everything.
type ChannelFilter struct {
	VendorID string
	Sender   *common.Address
	Status   ChannelStatus
}

func (f *ChannelFilter) Matches(c *Channel) bool {
	if f == nil {
		return true
	}
	if f.VendorID != "" && f.VendorID != c.VendorID {
		return false
	}
	if f.Sender != nil && *f.Sender != c.Sender {
		return false
	}
	if f.Status != "" && f.Status != c.Status {
		return false
	}
	return true
}

// Page is a 1-based page request. Limit is capped at MaxPageLimit.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Normalize applies defaults and the upper bound.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Bounds returns the [start, end) slice range for a result set of size total.
func (p Page) Bounds(total int) (int, int) {
	p = p.Normalize()
	if total < 0 {
		total = 0
	}
	// pages past the end are compared before multiplying so a huge page
	// number cannot overflow
	if p.Page-1 > total/p.Limit {
		return total, total
	}
	start := (p.Page - 1) * p.Limit
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func NewPagination(p Page, total int) Pagination {
	p = p.Normalize()
	return Pagination{
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: (total + p.Limit - 1) / p.Limit,
	}
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
