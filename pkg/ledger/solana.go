package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/dropzone-labs/dropzone/pkg/airdrop"
)

// DefaultRPCURL is the default Solana RPC endpoint.
const DefaultRPCURL = solanarpc.MainNetBeta_RPC

// defaultFeeBuffer is the lamport headroom kept for transaction fees when
// checking affordability.
const defaultFeeBuffer uint64 = 10_000

type Config struct {
	Logger *slog.Logger
	RPCURL string
	// SpendingKey is the base58-encoded private key of the wallet airdrops
	// are paid from.
	SpendingKey string
	// Cluster selects the explorer link suffix: "" (mainnet), "devnet" or
	// "testnet".
	Cluster string
	// FeeBufferLamports is reserved for fees on top of each transfer amount
	// when checking the spending balance.
	FeeBufferLamports uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.SpendingKey == "" {
		return errors.New("spending key is required")
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultRPCURL
	}
	if cfg.FeeBufferLamports == 0 {
		cfg.FeeBufferLamports = defaultFeeBuffer
	}
	return nil
}

// Client implements airdrop.Ledger against a Solana RPC node, paying from a
// single spending wallet.
type Client struct {
	log     *slog.Logger
	cfg     Config
	rpc     *solanarpc.Client
	key     solana.PrivateKey
	spender solana.PublicKey
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := solana.PrivateKeyFromBase58(cfg.SpendingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse spending key: %w", err)
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		rpc:     solanarpc.New(cfg.RPCURL),
		key:     key,
		spender: key.PublicKey(),
	}, nil
}

// SpendingAddress is the public address payouts are sent from.
func (c *Client) SpendingAddress() string {
	return c.spender.String()
}

// Transfer sends amount SOL from the spending wallet to address and returns
// the transaction signature. Submissions must not be issued concurrently for
// the same spending wallet.
func (c *Client) Transfer(ctx context.Context, address string, amount float64) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", address, err)
	}
	lamports := SOLToLamports(amount)
	if lamports == 0 {
		return "", fmt.Errorf("%w: %v SOL rounds to zero lamports", airdrop.ErrInvalidAmount, amount)
	}

	balance, err := c.rpc.GetBalance(ctx, c.spender, solanarpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch spending balance: %w", err)
	}
	if balance.Value < lamports+c.cfg.FeeBufferLamports {
		return "", fmt.Errorf("%w: balance %d lamports, need %d",
			airdrop.ErrInsufficientFunds, balance.Value, lamports+c.cfg.FeeBufferLamports)
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, c.spender, recipient).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.spender),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.spender) {
			return &c.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentFinalized,
	})
	if err != nil {
		if strings.Contains(err.Error(), "insufficient funds") ||
			strings.Contains(err.Error(), "insufficient lamports") {
			return "", fmt.Errorf("%w: %v", airdrop.ErrInsufficientFunds, err)
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	c.log.Info("ledger: transfer submitted", "to", address, "lamports", lamports, "tx", sig.String())
	return sig.String(), nil
}

// Balance returns the SOL balance of an address.
func (c *Client) Balance(ctx context.Context, address string) (float64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	out, err := c.rpc.GetBalance(ctx, pubkey, solanarpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return LamportsToSOL(out.Value), nil
}

// ExplorerLink returns an explorer URL for a transaction signature or an
// account address.
func (c *Client) ExplorerLink(ref string) string {
	return ExplorerLink(ref, c.cfg.Cluster)
}

// ExplorerLink builds a Solana explorer URL for ref. Signatures decode to 64
// bytes, addresses to 32; anything else is linked as a search.
func ExplorerLink(ref, cluster string) string {
	path := "address"
	if raw, err := solana.SignatureFromBase58(ref); err == nil && !raw.IsZero() {
		path = "tx"
	} else if _, err := solana.PublicKeyFromBase58(ref); err != nil {
		return fmt.Sprintf("https://explorer.solana.com/?q=%s%s", ref, clusterSuffix(cluster))
	}
	return fmt.Sprintf("https://explorer.solana.com/%s/%s%s", path, ref, clusterSuffix(cluster))
}

func clusterSuffix(cluster string) string {
	if cluster == "" || cluster == "mainnet" || cluster == "mainnet-beta" {
		return ""
	}
	return "?cluster=" + cluster
}

// ValidateAddress reports whether s is a well-formed base58 account address.
func ValidateAddress(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	return nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

// SOLToLamports converts SOL to lamports, truncating sub-lamport dust.
func SOLToLamports(sol float64) uint64 {
	return uint64(sol * float64(solana.LAMPORTS_PER_SOL))
}
