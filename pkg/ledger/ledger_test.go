package ledger

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/dropzone-labs/dropzone/pkg/testutil"
)

func TestDropzone_Ledger_New(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{SpendingKey: solana.NewWallet().PrivateKey.String()})
		require.Error(t, err)
	})

	t.Run("missing spending key", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Logger: testutil.NewLogger()})
		require.Error(t, err)
	})

	t.Run("malformed spending key", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Logger: testutil.NewLogger(), SpendingKey: "not-base58!"})
		require.Error(t, err)
	})

	t.Run("derives the spending address", func(t *testing.T) {
		t.Parallel()
		wallet := solana.NewWallet()
		c, err := New(Config{
			Logger:      testutil.NewLogger(),
			SpendingKey: wallet.PrivateKey.String(),
		})
		require.NoError(t, err)
		require.Equal(t, wallet.PublicKey().String(), c.SpendingAddress())
	})

	t.Run("defaults are filled in", func(t *testing.T) {
		t.Parallel()
		cfg := Config{
			Logger:      testutil.NewLogger(),
			SpendingKey: solana.NewWallet().PrivateKey.String(),
		}
		require.NoError(t, cfg.Validate())
		require.Equal(t, DefaultRPCURL, cfg.RPCURL)
		require.Equal(t, defaultFeeBuffer, cfg.FeeBufferLamports)
	})
}

func TestDropzone_Ledger_Conversions(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(solana.LAMPORTS_PER_SOL), SOLToLamports(1))
	require.Equal(t, uint64(500_000_000), SOLToLamports(0.5))
	require.Equal(t, uint64(0), SOLToLamports(0))

	require.Equal(t, 1.0, LamportsToSOL(solana.LAMPORTS_PER_SOL))
	require.InDelta(t, 0.000000001, LamportsToSOL(1), 1e-12)

	// Round trips within a lamport.
	require.InDelta(t, 1.5, LamportsToSOL(SOLToLamports(1.5)), 1e-9)
}

func TestDropzone_Ledger_ValidateAddress(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateAddress(solana.NewWallet().PublicKey().String()))
	require.Error(t, ValidateAddress(""))
	require.Error(t, ValidateAddress("not-an-address"))
	require.Error(t, ValidateAddress("0x8ba1f109551bd432803012645ac136ddd64dba72"))
}

func TestDropzone_Ledger_ExplorerLink(t *testing.T) {
	t.Parallel()

	address := solana.NewWallet().PublicKey().String()

	t.Run("addresses link to the account page", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "https://explorer.solana.com/address/"+address, ExplorerLink(address, ""))
	})

	t.Run("signatures link to the transaction page", func(t *testing.T) {
		t.Parallel()
		wallet := solana.NewWallet()
		sig, err := wallet.PrivateKey.Sign([]byte("payload"))
		require.NoError(t, err)
		require.Equal(t, "https://explorer.solana.com/tx/"+sig.String(), ExplorerLink(sig.String(), ""))
	})

	t.Run("cluster suffix", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "https://explorer.solana.com/address/"+address+"?cluster=devnet", ExplorerLink(address, "devnet"))
		require.Equal(t, "https://explorer.solana.com/address/"+address, ExplorerLink(address, "mainnet"))
		require.Equal(t, "https://explorer.solana.com/address/"+address, ExplorerLink(address, "mainnet-beta"))
	})

	t.Run("anything else becomes a search", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "https://explorer.solana.com/?q=garbage", ExplorerLink("garbage", ""))
	})
}
