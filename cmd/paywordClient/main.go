package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/issuer"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/streamclient"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "payword-client",
		Usage: "PayWord hash-chain wallet and streaming client",
		Description: `Manages PayWord hash chains and pays for content with them.

This client can:
- Generate hash chains and hand out their links in payment order
- Attach a deployed escrow and fetch paid segments from a vendor
- Catch up with the vendor's ledger and preview the settlement of a channel`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store-dir",
				Usage:   "Directory of the local hash chain store",
				Value:   "./data/issuer",
				EnvVars: []string{config.EnvPaywordIssuerStoreDir},
			},
			&cli.DurationFlag{
				Name:    "proof-timeout",
				Usage:   "Timeout for issuing one payment proof",
				Value:   issuer.DefaultProofTimeout,
				EnvVars: []string{config.EnvPaywordIssuerProofTimeout},
			},
			&cli.StringFlag{
				Name:  "server-url",
				Usage: "Vendor server base URL",
				Value: "http://localhost:3001",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvPaywordVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Generate a new hash chain for a vendor",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vendor", Usage: "Vendor address", Required: true},
					&cli.Uint64Flag{Name: "chain-id", Usage: "Ethereum chain ID of the vendor", Value: uint64(config.ChainId_EthereumAnvil)},
					&cli.StringFlag{Name: "amount-per-hash", Usage: "Price of one link in ETH", Required: true},
					&cli.Uint64Flag{Name: "length", Usage: "Number of payment links", Value: 1000},
					&cli.StringFlag{Name: "secret", Usage: "Secret seed (hex); random when omitted"},
				},
				Action: createCommand,
			},
			{
				Name:   "list",
				Usage:  "List stored hash chains",
				Action: listCommand,
			},
			{
				Name:      "show",
				Usage:     "Show a hash chain",
				ArgsUsage: "<chain-id>",
				Action:    showCommand,
			},
			{
				Name:      "index",
				Usage:     "Print the index of the last link handed out",
				ArgsUsage: "<chain-id>",
				Action:    indexCommand,
			},
			{
				Name:      "next",
				Usage:     "Hand out the next link of a hash chain",
				ArgsUsage: "<chain-id>",
				Action:    nextCommand,
			},
			{
				Name:      "resize",
				Usage:     "Regenerate a chain with a new length (only before deployment)",
				ArgsUsage: "<chain-id>",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "length", Usage: "New number of payment links", Required: true},
				},
				Action: resizeCommand,
			},
			{
				Name:      "attach",
				Usage:     "Record the escrow deployed for a hash chain",
				ArgsUsage: "<chain-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contract", Usage: "Escrow contract address", Required: true},
					&cli.StringFlag{Name: "total-amount", Usage: "Deposit in wei", Required: true},
				},
				Action: attachCommand,
			},
			{
				Name:      "sync",
				Usage:     "Catch the chain index up with the vendor's ledger",
				ArgsUsage: "<chain-id>",
				Action:    syncCommand,
			},
			{
				Name:      "fetch",
				Usage:     "Pay for and download content",
				ArgsUsage: "<chain-id> <path>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Write the last fetched body to this file"},
				},
				Action: fetchCommand,
			},
			{
				Name:      "settle-plan",
				Usage:     "Show how the vendor would settle a channel",
				ArgsUsage: "<channel-id>",
				Action:    settlePlanCommand,
			},
			{
				Name:      "export",
				Usage:     "Export a hash chain including its secret",
				ArgsUsage: "<chain-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
				},
				Action: exportCommand,
			},
			{
				Name:      "import",
				Usage:     "Import an exported hash chain",
				ArgsUsage: "<file>",
				Action:    importCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete a hash chain",
				ArgsUsage: "<chain-id>",
				Action:    deleteCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type session struct {
	issuer *issuer.Issuer
	store  issuer.Store
	logger *zap.Logger
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Sugar().Warnw("Failed to close chain store", "error", err)
	}
	_ = s.logger.Sync()
}

// openSession opens the chain store and the issuer over it
func openSession(c *cli.Context) (*session, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := &config.IssuerConfig{
		StoreDir:     c.String("store-dir"),
		ProofTimeout: c.Duration("proof-timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := issuer.NewBadgerStore(cfg.StoreDir, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain store: %w", err)
	}
	iss, err := issuer.NewIssuer(store, cfg, l)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create issuer: %w", err)
	}
	return &session{issuer: iss, store: store, logger: l}, nil
}

func chainArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("chain ID argument is required")
	}
	return id, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func createCommand(c *cli.Context) error {
	vendor := c.String("vendor")
	if !config.IsValidAddress(vendor) {
		return fmt.Errorf("invalid vendor address %q", vendor)
	}
	amount, err := decimal.NewFromString(c.String("amount-per-hash"))
	if err != nil || !amount.IsPositive() {
		return fmt.Errorf("amount-per-hash must be a positive decimal")
	}

	var secret []byte
	if raw := c.String("secret"); raw != "" {
		secret, err = hexutil.Decode(raw)
		if err != nil {
			return fmt.Errorf("failed to decode secret: %w", err)
		}
	} else {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.issuer.CreateChain(c.Context, secret, c.Uint64("length"), issuer.VendorInfo{
		Address:       common.HexToAddress(vendor),
		ChainID:       c.Uint64("chain-id"),
		AmountPerHash: amount,
	})
	if err != nil {
		return fmt.Errorf("failed to create hash chain: %w", err)
	}
	summary, err := s.issuer.Get(c.Context, id)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Hash chain created: %s\n", id)
	fmt.Printf("  tail (deploy the escrow with this): %s\n", summary.Tail.Hex())
	return nil
}

func listCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	chains, err := s.issuer.List(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list hash chains: %w", err)
	}
	return printJSON(chains)
}

func showCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.issuer.Get(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func indexCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	index, err := s.issuer.CurrentIndex(c.Context, id)
	if err != nil {
		return err
	}
	fmt.Println(index)
	return nil
}

func nextCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	link, err := s.issuer.Next(c.Context, id)
	if err != nil {
		return fmt.Errorf("failed to issue next link: %w", err)
	}
	return printJSON(link)
}

func resizeCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.issuer.UpdateNumHashes(c.Context, id, c.Uint64("length"))
	if err != nil {
		return fmt.Errorf("failed to resize hash chain: %w", err)
	}
	return printJSON(summary)
}

func attachCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	contract := c.String("contract")
	if !config.IsValidAddress(contract) {
		return fmt.Errorf("invalid contract address %q", contract)
	}
	total, ok := new(big.Int).SetString(c.String("total-amount"), 10)
	if !ok || total.Sign() <= 0 {
		return fmt.Errorf("total-amount must be a positive integer in wei")
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.issuer.AttachContract(c.Context, id, common.HexToAddress(contract), total)
	if err != nil {
		return fmt.Errorf("failed to attach contract: %w", err)
	}
	return printJSON(summary)
}

func newStreamClient(c *cli.Context, s *session, chainID string) (*streamclient.Client, error) {
	return streamclient.NewClient(&streamclient.ClientConfig{
		BaseURL: c.String("server-url"),
		ChainID: chainID,
		Issuer:  s.issuer,
		Logger:  s.logger,
	})
}

func syncCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := newStreamClient(c, s, id)
	if err != nil {
		return err
	}
	index, err := client.SyncIndex(c.Context)
	if err != nil {
		return fmt.Errorf("failed to sync index: %w", err)
	}
	fmt.Printf("✅ Chain index is %d\n", index)
	return nil
}

func fetchCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	paths := c.Args().Tail()
	if len(paths) == 0 {
		return fmt.Errorf("at least one content path is required")
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := newStreamClient(c, s, id)
	if err != nil {
		return err
	}

	var last *streamclient.Segment
	for _, p := range paths {
		seg, err := client.FetchSegment(c.Context, p)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", p, err)
		}
		fmt.Printf("✅ %s: %d bytes (%s) paid with index %d\n", p, len(seg.Body), seg.ContentType, seg.Proof.Link.Index)
		last = seg
	}

	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, last.Body, 0644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Printf("✅ Last segment written to: %s\n", out)
	}
	return nil
}

// settlePlanCommand asks the vendor for the closeChannel call it would make.
func settlePlanCommand(c *cli.Context) error {
	channelID := c.Args().First()
	if channelID == "" {
		return fmt.Errorf("channel ID argument is required")
	}

	endpoint, err := url.JoinPath(c.String("server-url"), "channels", url.PathEscape(channelID), "settlement")
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach vendor: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !envelope.Success {
		return fmt.Errorf("vendor rejected request (%d %s): %s", resp.StatusCode, envelope.Code, envelope.Message)
	}
	var plan interface{}
	if err := json.Unmarshal(envelope.Data, &plan); err != nil {
		return err
	}
	return printJSON(plan)
}

func exportCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.issuer.Export(c.Context, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	out := c.String("output")
	if err := os.WriteFile(out, data, 0600); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	fmt.Printf("✅ Hash chain %s exported to: %s (contains the secret)\n", id, out)
	return nil
}

func importCommand(c *cli.Context) error {
	file := c.Args().First()
	if file == "" {
		return fmt.Errorf("file argument is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	var rec issuer.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.issuer.Import(c.Context, &rec)
	if err != nil {
		return fmt.Errorf("failed to import hash chain: %w", err)
	}
	fmt.Printf("✅ Hash chain imported: %s\n", id)
	return nil
}

func deleteCommand(c *cli.Context) error {
	id, err := chainArg(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.issuer.Delete(c.Context, id); err != nil {
		return err
	}
	fmt.Printf("✅ Hash chain deleted: %s\n", id)
	return nil
}
