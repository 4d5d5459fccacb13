package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/client"
	"github.com/Layr-Labs/migration-release-go/pkg/locker"
	"github.com/Layr-Labs/migration-release-go/pkg/logger"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
	"github.com/Layr-Labs/migration-release-go/pkg/whitelist"
)

var (
	whitelistFlag = &cli.StringFlag{
		Name:     "whitelist",
		Aliases:  []string{"w"},
		Usage:    "Whitelist JSON file",
		Required: true,
	}
	outFlag = &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Output file (default stdout)",
	}
	serverFlag = &cli.StringFlag{
		Name:    "server",
		Usage:   "Release server base URL",
		Value:   "http://localhost:8080",
		EnvVars: []string{"RELEASE_SERVER_URL"},
	}
	operatorKeyFlag = &cli.StringFlag{
		Name:     "operator-key",
		Usage:    "Operator secp256k1 private key (hex)",
		EnvVars:  []string{"RELEASE_OPERATOR_KEY"},
		Required: true,
	}
)

var aggregateCommand = &cli.Command{
	Name:  "aggregate",
	Usage: "Aggregate locker Locked logs into a whitelist",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "logs",
			Usage:    "JSON array of logs as returned by eth_getLogs",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "contract",
			Usage: "Locker contract address; logs from other emitters are rejected",
		},
		&cli.StringFlag{
			Name:  "totals",
			Usage: `Locker per-epoch totals read from the contract, as {"<epoch>": "<amount>"}`,
		},
		&cli.BoolFlag{
			Name:  "skip-reconcile",
			Usage: "Commit without checking the whitelist against locker totals",
		},
		outFlag,
	},
	Action: func(c *cli.Context) error {
		if c.String("totals") == "" && !c.Bool("skip-reconcile") {
			return errMissingTotals
		}
		l, err := newLogger(c)
		if err != nil {
			return err
		}

		var logs []*ethTypes.Log
		if err := readJSON(c.String("logs"), &logs); err != nil {
			return err
		}

		var contract common.Address
		if addr := c.String("contract"); addr != "" {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("invalid contract address %q", addr)
			}
			contract = common.HexToAddress(addr)
		}
		decoder, err := locker.NewDecoder(contract)
		if err != nil {
			return err
		}
		records, err := decoder.DecodeLogs(logs)
		if err != nil {
			return fmt.Errorf("failed to decode locker logs: %w", err)
		}

		tally := locker.NewTally()
		unique, err := tally.RecordAll(records)
		if err != nil {
			return err
		}

		var totals map[uint256.Int]*uint256.Int
		if path := c.String("totals"); path != "" {
			if totals, err = readTotals(path); err != nil {
				return err
			}
		}

		entries, commitment, err := buildWhitelist(records, totals, l)
		if err != nil {
			return err
		}

		l.Sugar().Infow("Aggregated locker logs",
			"logs", len(logs),
			"records", len(records),
			"uniqueRecords", unique,
			"entries", len(entries),
			"epochs", len(tally.Epochs()),
			"root", commitment.Root().Hex(),
		)

		return withOutput(c.String("out"), func(w io.Writer) error {
			return whitelist.Encode(w, entries)
		})
	},
}

var rootCommand = &cli.Command{
	Name:  "root",
	Usage: "Print the Merkle root of a whitelist",
	Flags: []cli.Flag{whitelistFlag},
	Action: func(c *cli.Context) error {
		commitment, err := loadCommitment(c.String("whitelist"))
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, commitment.Tree.Commitment())
	},
}

type proofOutput struct {
	Address string   `json:"address"`
	Amount  string   `json:"amount"`
	Epoch   string   `json:"epoch"`
	Leaf    string   `json:"leaf"`
	Proof   []string `json:"proof"`
}

func newProofOutput(p whitelist.EntryProof) proofOutput {
	return proofOutput{
		Address: p.Entry.Recipient.Hex(),
		Amount:  p.Entry.Amount.Dec(),
		Epoch:   p.Entry.Epoch.Dec(),
		Leaf:    p.Leaf.Hex(),
		Proof:   p.Proof,
	}
}

var proofCommand = &cli.Command{
	Name:  "proof",
	Usage: "Print the proof for one (address, epoch)",
	Flags: []cli.Flag{
		whitelistFlag,
		&cli.StringFlag{Name: "address", Required: true},
		&cli.StringFlag{Name: "epoch", Required: true},
	},
	Action: func(c *cli.Context) error {
		commitment, err := loadCommitment(c.String("whitelist"))
		if err != nil {
			return err
		}
		address := c.String("address")
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid address %q", address)
		}
		epoch, err := uint256.FromDecimal(c.String("epoch"))
		if err != nil {
			return fmt.Errorf("invalid epoch: %w", err)
		}

		entry, proof, err := commitment.Proof(common.HexToAddress(address), epoch)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, newProofOutput(whitelist.EntryProof{
			Entry: entry,
			Leaf:  common.Hash(merkle.HashEntry(entry)),
			Proof: merkle.FormatProof(proof),
		}))
	},
}

var proofsCommand = &cli.Command{
	Name:  "proofs",
	Usage: "Print every entry with its proof",
	Flags: []cli.Flag{whitelistFlag, outFlag},
	Action: func(c *cli.Context) error {
		commitment, err := loadCommitment(c.String("whitelist"))
		if err != nil {
			return err
		}
		proofs, err := commitment.Proofs()
		if err != nil {
			return err
		}
		out := make([]proofOutput, len(proofs))
		for i, p := range proofs {
			out[i] = newProofOutput(p)
		}
		return withOutput(c.String("out"), func(w io.Writer) error {
			return writeJSON(w, out)
		})
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "Verify a proof against a root",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "root", Required: true},
		&cli.StringFlag{Name: "address", Required: true},
		&cli.StringFlag{Name: "amount", Required: true},
		&cli.StringFlag{Name: "epoch", Required: true},
		&cli.StringSliceFlag{Name: "proof", Usage: "Proof element, repeated or comma separated"},
	},
	Action: func(c *cli.Context) error {
		root, err := merkle.ParseHash(c.String("root"))
		if err != nil {
			return err
		}
		address := c.String("address")
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid address %q", address)
		}
		amount, err := uint256.FromDecimal(c.String("amount"))
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		epoch, err := uint256.FromDecimal(c.String("epoch"))
		if err != nil {
			return fmt.Errorf("invalid epoch: %w", err)
		}
		proof, err := merkle.ParseProof(c.StringSlice("proof"))
		if err != nil {
			return err
		}

		leaf := merkle.HashClaim(common.HexToAddress(address), amount, epoch)
		if !merkle.VerifyProof(leaf, proof, root) {
			return cli.Exit("invalid", 1)
		}
		fmt.Println("valid")
		return nil
	},
}

var fundingCommand = &cli.Command{
	Name:  "funding",
	Usage: "Print the balance needed to pay every entry in both phases",
	Flags: []cli.Flag{
		whitelistFlag,
		&cli.Uint64Flag{Name: "instant-multiplier", Value: release.DefaultInstantMultiplier},
		&cli.Uint64Flag{Name: "vested-multiplier", Value: release.DefaultVestedMultiplier},
	},
	Action: func(c *cli.Context) error {
		entries, err := loadWhitelist(c.String("whitelist"))
		if err != nil {
			return err
		}
		required, err := whitelist.RequiredFunding(entries, c.Uint64("instant-multiplier"), c.Uint64("vested-multiplier"))
		if err != nil {
			return err
		}
		fmt.Println(required.Dec())
		return nil
	},
}

var publishCommand = &cli.Command{
	Name:  "publish",
	Usage: "Sign and submit the whitelist root to a release server",
	Flags: []cli.Flag{whitelistFlag, serverFlag, operatorKeyFlag},
	Action: func(c *cli.Context) error {
		commitment, err := loadCommitment(c.String("whitelist"))
		if err != nil {
			return err
		}
		rc, l, err := newOperatorClient(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, time.Minute)
		defer cancel()
		root, err := rc.SetRoot(ctx, commitment.Tree.Commitment())
		if err != nil {
			return err
		}
		l.Sugar().Infow("Root published", "root", root.Root, "leafCount", root.LeafCount)
		return nil
	},
}

var fundCommand = &cli.Command{
	Name:  "fund",
	Usage: "Sign and submit a funding credit to a release server",
	Flags: []cli.Flag{
		serverFlag,
		operatorKeyFlag,
		&cli.StringFlag{Name: "amount", Usage: "Decimal amount to credit", Required: true},
	},
	Action: func(c *cli.Context) error {
		amount, err := uint256.FromDecimal(c.String("amount"))
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		rc, l, err := newOperatorClient(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, time.Minute)
		defer cancel()
		account, err := rc.AddFunds(ctx, amount)
		if err != nil {
			return err
		}
		l.Sugar().Infow("Funds added", "balance", account.Balance, "totalReleased", account.TotalReleased)
		return nil
	},
}

var errMissingTotals = errors.New("--totals is required unless --skip-reconcile is set")

// buildWhitelist aggregates records and commits them. With nil totals the
// result is committed unreconciled.
func buildWhitelist(records []*types.LockRecord, totals map[uint256.Int]*uint256.Int, l *zap.Logger) ([]*types.ClaimEntry, *whitelist.Commitment, error) {
	entries, err := whitelist.Aggregate(records)
	if err != nil {
		return nil, nil, err
	}
	if totals == nil {
		l.Sugar().Warnw("Skipping reconciliation against locker totals", "entries", len(entries))
		commitment, err := whitelist.Commit(entries)
		return entries, commitment, err
	}
	commitment, err := whitelist.CommitReconciled(entries, totals)
	if err != nil {
		return nil, nil, err
	}
	return entries, commitment, nil
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func newOperatorClient(c *cli.Context) (*client.ReleaseClient, *zap.Logger, error) {
	l, err := newLogger(c)
	if err != nil {
		return nil, nil, err
	}
	signer, err := auth.NewInMemorySignerFromHex(c.String("operator-key"), l)
	if err != nil {
		return nil, nil, err
	}
	rc, err := client.NewReleaseClient(&client.Config{
		BaseURL: c.String("server"),
		Signer:  signer,
	})
	if err != nil {
		return nil, nil, err
	}
	l.Sugar().Debugw("Operator client ready", "server", c.String("server"), "operator", signer.Address().Hex())
	return rc, l, nil
}

func loadWhitelist(path string) ([]*types.ClaimEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open whitelist: %w", err)
	}
	defer func() { _ = f.Close() }()
	return whitelist.Decode(f)
}

func loadCommitment(path string) (*whitelist.Commitment, error) {
	entries, err := loadWhitelist(path)
	if err != nil {
		return nil, err
	}
	return whitelist.Commit(entries)
}

// readTotals parses {"<epoch>": "<amount>"} with decimal strings.
func readTotals(path string) (map[uint256.Int]*uint256.Int, error) {
	var raw map[string]string
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	totals := make(map[uint256.Int]*uint256.Int, len(raw))
	for epochStr, amountStr := range raw {
		epoch, err := uint256.FromDecimal(strings.TrimSpace(epochStr))
		if err != nil {
			return nil, fmt.Errorf("invalid epoch %q in totals: %w", epochStr, err)
		}
		amount, err := uint256.FromDecimal(strings.TrimSpace(amountStr))
		if err != nil {
			return nil, fmt.Errorf("invalid total %q for epoch %s: %w", amountStr, epochStr, err)
		}
		totals[*epoch] = amount
	}
	return totals, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withOutput runs write against path, or stdout when path is empty.
func withOutput(path string, write func(w io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
