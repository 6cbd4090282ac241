// Package streamclient fetches paid content from a vendor, attaching the
// next link of a local hash chain to every request.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/issuer"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

type ClientConfig struct {
	// BaseURL of the vendor API; relative segment URLs resolve against it.
	BaseURL    string
	ChainID    string
	Issuer     *issuer.Issuer
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL    *url.URL
	chainID    string
	issuer     *issuer.Issuer
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.ChainID == "" {
		return nil, fmt.Errorf("hash chain ID is required")
	}
	if config.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:    base,
		chainID:    config.ChainID,
		issuer:     config.Issuer,
		httpClient: httpClient,
		logger:     config.Logger,
	}, nil
}

// RejectionError is a non-2xx answer from the vendor. It unwraps to the
// matching sentinel in pkg/types when the reason code is known.
type RejectionError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("vendor rejected request (%d %s): %s", e.Status, e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error {
	return types.ErrorFromCode(e.Code)
}

type Segment struct {
	Body        []byte
	ContentType string
	Proof       *issuer.Proof
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

// FetchSegment pays for and downloads one content unit. The link is spent
// once issued, whether or not the vendor accepts it.
func (c *Client) FetchSegment(ctx context.Context, ref string) (*Segment, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	proof, err := c.issuer.IssueProofForRequest(ctx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(types.HeaderHash, proof.Link.Hash.Hex())
	req.Header.Set(types.HeaderHashIndex, strconv.FormatUint(proof.Link.Index, 10))
	req.Header.Set(types.HeaderContractAddress, proof.Contract.Hex())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		rejection := decodeRejection(resp)
		c.logger.Sugar().Warnw("Segment rejected",
			"url", target,
			"index", proof.Link.Index,
			"status", rejection.Status,
			"code", rejection.Code,
		)
		return nil, rejection
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment body: %w", err)
	}
	c.logger.Sugar().Debugw("Segment fetched", "url", target, "index", proof.Link.Index, "bytes", len(body))
	return &Segment{Body: body, ContentType: resp.Header.Get("Content-Type"), Proof: proof}, nil
}

// SyncIndex asks the vendor how far the channel has been paid and moves the
// local chain forward to match.
func (c *Client) SyncIndex(ctx context.Context) (uint64, error) {
	summary, err := c.issuer.Get(ctx, c.chainID)
	if err != nil {
		return 0, err
	}
	if summary.Contract == nil {
		return 0, issuer.ErrNoContract
	}

	target, err := c.resolve("channels?contract=" + summary.Contract.Hex())
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to query channel: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeRejection(resp)
	}

	var envelope struct {
		Success bool           `json:"success"`
		Data    *types.Channel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, fmt.Errorf("failed to decode channel: %w", err)
	}
	if envelope.Data == nil {
		return 0, types.ErrChannelNotFound
	}
	return c.issuer.SyncIndex(ctx, c.chainID, envelope.Data.LastIndex)
}

func decodeRejection(resp *http.Response) *RejectionError {
	rejection := &RejectionError{Status: resp.StatusCode}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, &envelope); err == nil {
		rejection.Code = envelope.Code
		rejection.Message = envelope.Message
	} else {
		rejection.Message = strings.TrimSpace(string(body))
	}
	return rejection
}
