package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/Layr-Labs/payword-channels-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

type listResponse struct {
	Items      interface{}      `json:"items"`
	Pagination types.Pagination `json:"pagination"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(types.ErrInvalidRequest, "failed to parse request body: %v", err)
	}
	return nil
}

func parsePage(r *http.Request) (types.Page, error) {
	var page types.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &page.Page, "limit": &page.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return types.Page{}, errors.Wrapf(types.ErrInvalidRequest, "%s must be a positive integer", name)
		}
		*dst = v
	}
	return page, nil
}

func parseAddress(raw, name string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.Wrapf(types.ErrInvalidRequest, "invalid %s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	util.WriteFailure(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
}

// Vendors

func (s *Server) handleCreateVendor(w http.ResponseWriter, r *http.Request) {
	var req channel.CreateVendorRequest
	if err := decodeBody(w, r, &req); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	vendor, err := s.channels.CreateVendor(r.Context(), &req)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, vendor)
}

func (s *Server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	vendors, pagination, err := s.channels.ListVendors(r.Context(), page)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, listResponse{Items: vendors, Pagination: pagination})
}

func (s *Server) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	vendor, err := s.channels.GetVendor(r.Context(), r.PathValue("id"))
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, vendor)
}

func (s *Server) handleGetVendorByAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "vendor address")
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	vendor, err := s.channels.GetVendorByAddress(r.Context(), addr)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, vendor)
}

func (s *Server) handleUpdateVendor(w http.ResponseWriter, r *http.Request) {
	var req channel.UpdateVendorRequest
	if err := decodeBody(w, r, &req); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	vendor, err := s.channels.UpdateVendor(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, vendor)
}

func (s *Server) handleDeleteVendor(w http.ResponseWriter, r *http.Request) {
	if err := s.channels.DeleteVendor(r.Context(), r.PathValue("id")); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

// Channels

func (s *Server) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req channel.OpenRequest
	if err := decodeBody(w, r, &req); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	ch, err := s.channels.Open(r.Context(), &req)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, ch)
}

// handleListChannels lists channels, or returns the single channel for
// ?contract=.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("contract"); raw != "" {
		contract, err := parseAddress(raw, "contract address")
		if err != nil {
			util.WriteError(w, s.logger, err)
			return
		}
		ch, err := s.channels.GetByContract(r.Context(), contract)
		if err != nil {
			util.WriteError(w, s.logger, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, ch)
		return
	}

	filter := &types.ChannelFilter{VendorID: q.Get("vendorId")}
	if raw := q.Get("sender"); raw != "" {
		sender, err := parseAddress(raw, "sender address")
		if err != nil {
			util.WriteError(w, s.logger, err)
			return
		}
		filter.Sender = &sender
	}
	switch status := types.ChannelStatus(q.Get("status")); status {
	case "", types.ChannelStatus_Open, types.ChannelStatus_Closed:
		filter.Status = status
	default:
		util.WriteError(w, s.logger, errors.Wrapf(types.ErrInvalidRequest, "unknown status %q", status))
		return
	}

	page, err := parsePage(r)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	channels, pagination, err := s.channels.List(r.Context(), filter, page)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, listResponse{Items: channels, Pagination: pagination})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channels.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ch)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	payments, pagination, err := s.channels.Payments(r.Context(), r.PathValue("id"), page)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, listResponse{Items: payments, Pagination: pagination})
}

func (s *Server) handleSettlementPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.settler.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, plan)
}

type settleRequest struct {
	VendorID string `json:"vendorId"`
}

func (s *Server) handleSettleChannel(w http.ResponseWriter, r *http.Request) {
	if !s.canSettle {
		util.WriteFailure(w, http.StatusNotImplemented, "SETTLEMENT_DISABLED", "no settlement key configured")
		return
	}
	var req settleRequest
	if err := decodeBody(w, r, &req); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	result, err := s.settler.Settle(r.Context(), r.PathValue("id"), req.VendorID)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	var req channel.CloseRequest
	if err := decodeBody(w, r, &req); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	req.ChannelID = r.PathValue("id")
	ch, err := s.channels.Close(r.Context(), &req)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ch)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.channels.Delete(r.Context(), id); err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Payments

type verifyResponse struct {
	Hash    common.Hash    `json:"hash"`
	Used    bool           `json:"used"`
	Payment *types.Payment `json:"payment,omitempty"`
}

func (s *Server) handleVerifyHash(w http.ResponseWriter, r *http.Request) {
	hash, err := hashchain.ParseHash(r.PathValue("hash"))
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	payment, err := s.channels.PaymentByHash(r.Context(), hash)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, verifyResponse{Hash: hash, Used: payment != nil, Payment: payment})
}
