package types

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrChannelNotFound          = errors.New("channel not found")
	ErrChannelClosed            = errors.New("channel is closed")
	ErrAlreadyClosed            = errors.New("channel is already closed")
	ErrRecipientMismatch        = errors.New("vendor address does not match contract recipient")
	ErrOutOfOrder               = errors.New("proof index is not ahead of the last accepted payment")
	ErrInvalidProofChain        = errors.New("proof does not hash to the last accepted payment")
	ErrDuplicateHash            = errors.New("hash has already been used")
	ErrChainExhausted           = errors.New("hash chain is exhausted")
	ErrImmutableAfterDeployment = errors.New("hash chain cannot change after its contract is deployed")
	ErrEscrowUnavailable        = errors.New("escrow contract is unavailable")

	ErrVendorNotFound   = errors.New("vendor not found")
	ErrVendorExists     = errors.New("vendor with this address already exists")
	ErrChannelExists    = errors.New("a channel for this contract already exists")
	ErrEscrowMismatch   = errors.New("escrow state does not match the channel terms")
	ErrUnauthorized     = errors.New("vendor does not own this channel")
	ErrMissingProof     = errors.New("payment proof headers are missing")
	ErrInvalidProof     = errors.New("payment proof is malformed")
	ErrNothingToSettle  = errors.New("channel has no accepted payments to settle")
	ErrChannelNotClosed = errors.New("only closed channels can be deleted")
	ErrInvalidRequest   = errors.New("invalid request")
)

// ErrorCode returns the stable reason code for a domain error, or
// "INTERNAL_ERROR" when err is not part of the taxonomy.
func ErrorCode(err error) string {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus maps a domain error to the status code returned to clients.
// Payment rejections use 402 so players can tell them apart from transport failures.
func HTTPStatus(err error) int {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

var errorTable = []struct {
	err    error
	code   string
	status int
}{
	{ErrChannelNotFound, "CHANNEL_NOT_FOUND", http.StatusNotFound},
	{ErrChannelClosed, "CHANNEL_CLOSED", http.StatusPaymentRequired},
	{ErrAlreadyClosed, "ALREADY_CLOSED", http.StatusConflict},
	{ErrRecipientMismatch, "RECIPIENT_MISMATCH", http.StatusBadRequest},
	{ErrOutOfOrder, "OUT_OF_ORDER", http.StatusPaymentRequired},
	{ErrInvalidProofChain, "INVALID_PROOF_CHAIN", http.StatusPaymentRequired},
	{ErrDuplicateHash, "DUPLICATE_HASH", http.StatusPaymentRequired},
	{ErrChainExhausted, "CHAIN_EXHAUSTED", http.StatusPaymentRequired},
	{ErrImmutableAfterDeployment, "IMMUTABLE_AFTER_DEPLOYMENT", http.StatusConflict},
	{ErrEscrowUnavailable, "ESCROW_UNAVAILABLE", http.StatusServiceUnavailable},
	{ErrVendorNotFound, "VENDOR_NOT_FOUND", http.StatusNotFound},
	{ErrVendorExists, "VENDOR_EXISTS", http.StatusConflict},
	{ErrChannelExists, "CHANNEL_EXISTS", http.StatusConflict},
	{ErrEscrowMismatch, "ESCROW_MISMATCH", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden},
	{ErrMissingProof, "MISSING_PROOF", http.StatusBadRequest},
	{ErrInvalidProof, "INVALID_PROOF", http.StatusBadRequest},
	{ErrNothingToSettle, "NOTHING_TO_SETTLE", http.StatusConflict},
	{ErrChannelNotClosed, "CHANNEL_NOT_CLOSED", http.StatusConflict},
	{ErrInvalidRequest, "INVALID_REQUEST", http.StatusBadRequest},
}

// ErrorFromCode returns the sentinel for a reason code produced by ErrorCode,
// or nil for unknown codes.
func ErrorFromCode(code string) error {
	for _, e := range errorTable {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
