package admission

import (
	"context"
	"net/http"
	"strings"

	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/Layr-Labs/payword-channels-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type admissionContextKey struct{}

// FromContext returns the admission recorded by Middleware for this request.
func FromContext(ctx context.Context) (*Admission, bool) {
	a, ok := ctx.Value(admissionContextKey{}).(*Admission)
	return a, ok
}

// ParseRequest extracts a payment proof from the request headers.
func ParseRequest(r *http.Request) (Request, error) {
	hashHex := strings.TrimSpace(r.Header.Get(types.HeaderHash))
	index := strings.TrimSpace(r.Header.Get(types.HeaderHashIndex))
	contract := strings.TrimSpace(r.Header.Get(types.HeaderContractAddress))
	if hashHex == "" || index == "" || contract == "" {
		return Request{}, types.ErrMissingProof
	}
	if !common.IsHexAddress(contract) {
		return Request{}, errors.Wrapf(types.ErrInvalidProof, "invalid contract address %q", contract)
	}
	link, err := hashchain.ParseLink(hashHex, index)
	if err != nil {
		return Request{}, err
	}
	return Request{Contract: common.HexToAddress(contract), Link: link}, nil
}

// Middleware admits the proof attached to each request before handing it to
// next. The payment is committed before next runs, so content is only ever
// served for recorded payments.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseRequest(r)
		if err != nil {
			util.WriteError(w, g.logger, err)
			return
		}

		admitted, err := g.Admit(r.Context(), req)
		if err != nil {
			g.logger.Sugar().Debugw("Proof rejected",
				"contract", req.Contract.Hex(),
				"index", req.Link.Index,
				"error", err,
			)
			util.WriteError(w, g.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), admissionContextKey{}, admitted)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
