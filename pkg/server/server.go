package server

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/admission"
	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/settlement"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

/*
Server exposes the vendor API and the paid content it guards.

Content:
  GET /hls/{path...}
    - Requires X-Hash, X-Hash-Index and X-Smart-Contract-Address
    - The proof is admitted and committed to the ledger before any byte is served
    - Rejections use 402 with a reason code; malformed headers use 400

Vendors:
  POST   /vendors                    (admin)
  GET    /vendors
  GET    /vendors/{id}
  GET    /vendors/address/{address}
  PUT    /vendors/{id}               (admin)
  DELETE /vendors/{id}               (admin)

Channels:
  POST   /channels                   open against a deployed escrow; the escrow is the authority
  GET    /channels                   ?vendorId, ?sender, ?status, ?contract, ?page, ?limit
  GET    /channels/{id}
  GET    /channels/{id}/payments
  GET    /channels/{id}/settlement   the closeChannel call that would redeem the channel
  POST   /channels/{id}/settle       (admin) submit closeChannel, then close
  POST   /channels/{id}/close        (admin) close with an external settlement tx
  DELETE /channels/{id}              (admin) closed channels only

Payments:
  GET /payments/verify/{hash}        whether a hash has been spent

Admin routes take "Authorization: Bearer <admin key>". Every JSON response
uses the {success, data, code, message} envelope.
*/

type Config struct {
	Port           int
	AdminAPIKey    string
	AllowedOrigins []string
	// CanSettle is false when the vendor has no key to sign closeChannel;
	// /settle then answers 501 and channels are closed with an external tx.
	CanSettle bool
}

type Server struct {
	channels  *channel.Service
	settler   *settlement.Settler
	gate      *admission.Gate
	content   fs.FS
	adminKey  string
	canSettle bool
	logger    *zap.Logger

	httpServer *http.Server
}

// NewServer wires the routes.
func NewServer(
	cfg *Config,
	channels *channel.Service,
	settler *settlement.Settler,
	gate *admission.Gate,
	content fs.FS,
	logger *zap.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.AdminAPIKey == "" {
		return nil, fmt.Errorf("admin API key is required")
	}
	if channels == nil || settler == nil || gate == nil || content == nil {
		return nil, fmt.Errorf("channel service, settler, gate and content source are required")
	}

	s := &Server{
		channels:  channels,
		settler:   settler,
		gate:      gate,
		content:   content,
		adminKey:  cfg.AdminAPIKey,
		canSettle: cfg.CanSettle,
		logger:    logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Paid content
	mux.Handle("GET /hls/{path...}", s.contentHandler())

	// Vendors
	mux.Handle("POST /vendors", s.requireAdmin(http.HandlerFunc(s.handleCreateVendor)))
	mux.HandleFunc("GET /vendors", s.handleListVendors)
	mux.HandleFunc("GET /vendors/{id}", s.handleGetVendor)
	mux.HandleFunc("GET /vendors/address/{address}", s.handleGetVendorByAddress)
	mux.Handle("PUT /vendors/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateVendor)))
	mux.Handle("DELETE /vendors/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteVendor)))

	// Channels
	mux.HandleFunc("POST /channels", s.handleOpenChannel)
	mux.HandleFunc("GET /channels", s.handleListChannels)
	mux.HandleFunc("GET /channels/{id}", s.handleGetChannel)
	mux.HandleFunc("GET /channels/{id}/payments", s.handleListPayments)
	mux.HandleFunc("GET /channels/{id}/settlement", s.handleSettlementPlan)
	mux.Handle("POST /channels/{id}/settle", s.requireAdmin(http.HandlerFunc(s.handleSettleChannel)))
	mux.Handle("POST /channels/{id}/close", s.requireAdmin(http.HandlerFunc(s.handleCloseChannel)))
	mux.Handle("DELETE /channels/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteChannel)))

	// Payments
	mux.HandleFunc("GET /payments/verify/{hash}", s.handleVerifyHash)

	mux.HandleFunc("/", s.handleNotFound)

	handler := corsHandler(cfg.AllowedOrigins).Handler(mux)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Hash",
			"X-Hash-Index",
			"X-Smart-Contract-Address",
		},
		ExposedHeaders:   []string{"Content-Length", "X-Request-Id"},
		MaxAge:           3600,
		AllowCredentials: true,
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires, then closes.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
