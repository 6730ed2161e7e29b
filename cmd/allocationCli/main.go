package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/allocation"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "allocation-cli",
		Usage: "Build, inspect and activate airdrop allocation trees",
		Description: `An administration client for allocation trees.

This client can:
- Import CSV or JSON allocation files into new trees
- List, inspect and validate stored trees
- Activate a tree for claims
- Look up and verify wallet proofs
- Compute a merkle root offline without touching any store

The badger store is single-process: while a claims server owns the data directory,
point the store commands at it with --server instead.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Claims server URL; when set, store commands go through its API instead of opening the store",
				EnvVars: []string{config.EnvClaimsServerURL},
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Bearer token for create and activate through --server",
				EnvVars: []string{config.EnvClaimsAdminToken},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Usage:   "Allocation tree store: badger, redis or memory",
				Value:   config.PersistenceTypeBadger.String(),
				EnvVars: []string{config.EnvClaimsPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				Value:   config.DefaultDataPath,
				EnvVars: []string{config.EnvClaimsDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				Value:   "localhost:6379",
				EnvVars: []string{config.EnvClaimsRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvClaimsRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvClaimsRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix prepended to every Redis key",
				EnvVars: []string{config.EnvClaimsRedisKeyPrefix},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvClaimsDebug},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an inactive tree from an allocation file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Unique tree name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Allocation file (.csv with address,amount lines or .json)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Tree description",
					},
					&cli.StringFlag{
						Name:  "created-by",
						Usage: "Operator recorded in the tree metadata",
						Value: defaultOperator(),
					},
					&cli.StringSliceFlag{
						Name:  "label",
						Usage: "Metadata label as key=value (repeatable)",
					},
				},
				Action: createCommand,
			},
			{
				Name:   "list",
				Usage:  "List all trees",
				Action: listCommand,
			},
			{
				Name:  "show",
				Usage: "Show one tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Tree ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "leaves",
						Usage: "Include every leaf and proof",
					},
				},
				Action: showCommand,
			},
			{
				Name:  "validate",
				Usage: "Run integrity validation on a stored tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Tree ID",
						Required: true,
					},
				},
				Action: validateCommand,
			},
			{
				Name:  "activate",
				Usage: "Validate a tree and make it the active tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Tree ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "by",
						Usage: "Operator recorded on the active pointer",
						Value: defaultOperator(),
					},
				},
				Action: activateCommand,
			},
			{
				Name:  "proof",
				Usage: "Look a wallet up in the active tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "wallet",
						Usage:    "Wallet address",
						Required: true,
					},
				},
				Action: proofCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify a wallet proof against a root, or the active tree when no root is given",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "wallet",
						Usage:    "Wallet address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Allocated amount (decimal integer)",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "proof",
						Usage: "Proof hashes, comma separated or repeated",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Merkle root to verify against (skips the store)",
					},
				},
				Action: verifyCommand,
			},
			{
				Name:  "root",
				Usage: "Compute the merkle root of an allocation file offline",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Allocation file (.csv or .json)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Write every leaf and proof as JSON to this file",
					},
				},
				Action: rootCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// withBackend opens the backend, runs fn and closes the backend
func withBackend(c *cli.Context, fn func(b treeBackend, l *zap.Logger) error) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	b, err := openBackend(c, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			l.Sugar().Warnw("Failed to close backend", "error", err)
		}
	}()

	return fn(b, l)
}

func createCommand(c *cli.Context) error {
	labels, err := parseLabels(c.StringSlice("label"))
	if err != nil {
		return err
	}

	return withBackend(c, func(b treeBackend, l *zap.Logger) error {
		records, source, err := allocation.ParseFile(c.String("file"), l)
		if err != nil {
			return err
		}

		tree, err := b.Create(c.Context, &claims.CreateTreeRequest{
			Name:        c.String("name"),
			Description: c.String("description"),
			Allocations: records,
			CreatedBy:   c.String("created-by"),
			Source:      source,
			Labels:      labels,
		})
		if err != nil {
			return fmt.Errorf("failed to create tree: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Created tree %s (inactive). Activate it with: allocation-cli activate --id %s\n", tree.ID, tree.ID)
		return printJSON(tree.Summary())
	})
}

func listCommand(c *cli.Context) error {
	return withBackend(c, func(b treeBackend, _ *zap.Logger) error {
		trees, err := b.ListTrees(c.Context)
		if err != nil {
			return err
		}

		if len(trees) == 0 {
			fmt.Println("No allocation trees")
			return nil
		}

		fmt.Printf("%-36s  %-24s  %-6s  %8s  %-30s  %s\n", "ID", "NAME", "ACTIVE", "USERS", "TOTAL", "ROOT")
		for _, tree := range trees {
			active := ""
			if tree.IsActive {
				active = "*"
			}
			fmt.Printf("%-36s  %-24s  %-6s  %8d  %-30s  %s\n",
				tree.ID, tree.Name, active, tree.TotalUsers, tree.TotalAmount.String(), tree.Root.Hex())
		}
		return nil
	})
}

func showCommand(c *cli.Context) error {
	return withBackend(c, func(b treeBackend, _ *zap.Logger) error {
		tree, err := b.GetTree(c.Context, c.String("id"), c.Bool("leaves"))
		if err != nil {
			return err
		}
		return printJSON(withActiveFlag(tree))
	})
}

func validateCommand(c *cli.Context) error {
	return withBackend(c, func(b treeBackend, _ *zap.Logger) error {
		result, err := b.ValidateTree(c.Context, c.String("id"))
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.Valid {
			return cli.Exit("tree failed integrity validation", 1)
		}
		return nil
	})
}

func activateCommand(c *cli.Context) error {
	return withBackend(c, func(b treeBackend, _ *zap.Logger) error {
		tree, err := b.Activate(c.Context, c.String("id"), c.String("by"))
		if err != nil {
			return fmt.Errorf("failed to activate tree: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Tree %s is now active\n", tree.ID)
		return printJSON(withActiveFlag(tree))
	})
}

func proofCommand(c *cli.Context) error {
	return withBackend(c, func(b treeBackend, _ *zap.Logger) error {
		result, err := b.IsEligible(c.Context, c.String("wallet"))
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

func verifyCommand(c *cli.Context) error {
	amount, err := types.ParseAmount(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	proof, err := parseHashes(c.StringSlice("proof"))
	if err != nil {
		return err
	}

	wallet := c.String("wallet")
	var valid bool

	if rootHex := c.String("root"); rootHex != "" {
		root, err := parseHash(rootHex)
		if err != nil {
			return fmt.Errorf("invalid root: %w", err)
		}
		valid = merkle.VerifyAllocationProof(wallet, amount.BigInt(), proof, root)
	} else {
		err := withBackend(c, func(b treeBackend, _ *zap.Logger) error {
			var err error
			valid, err = b.VerifyClaim(c.Context, wallet, amount.BigInt(), proof)
			return err
		})
		if err != nil {
			return err
		}
	}

	if !valid {
		fmt.Println("INVALID")
		return cli.Exit("", 1)
	}
	fmt.Println("VALID")
	return nil
}

func rootCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}

	records, _, err := allocation.ParseFile(c.String("file"), l)
	if err != nil {
		return err
	}
	allocs, err := allocation.Normalize(records)
	if err != nil {
		return err
	}
	tree, err := allocation.BuildTree(allocs)
	if err != nil {
		return err
	}

	if output := c.String("output"); output != "" {
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode tree: %w", err)
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d leaves to %s\n", len(tree.Leaves), output)
	}

	return printJSON(tree.Summary())
}

type treeOutput struct {
	*types.AllocationTree
	IsActive bool `json:"isActive"`
}

func withActiveFlag(tree *types.AllocationTree) *treeOutput {
	return &treeOutput{AllocationTree: tree, IsActive: tree.IsActive}
}

func parseLabels(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label %q, expected key=value", v)
		}
		labels[key] = value
	}
	return labels, nil
}

func parseHashes(values []string) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(values))
	for i, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		h, err := parseHash(v)
		if err != nil {
			return nil, fmt.Errorf("invalid proof element %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
