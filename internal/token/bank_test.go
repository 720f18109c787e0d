package token

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/amberfi/clr/internal/types"
	"github.com/amberfi/clr/internal/utils"
)

func newTestBank(t *testing.T) *Bank {
	t.Helper()
	bank := NewBank()
	require.NoError(t, bank.RegisterAsset(types.Asset{Denom: "uatom", Symbol: "atom", Decimals: 6}))
	require.NoError(t, bank.RegisterAsset(types.Asset{Denom: "uusdc", Symbol: "usdc", Decimals: 6}))
	return bank
}

func TestBankRejectsOversizedDecimals(t *testing.T) {
	bank := NewBank()
	err := bank.RegisterAsset(types.Asset{Denom: "bad", Decimals: 19})
	require.ErrorIs(t, err, utils.ErrInvalidPrecision)
}

func TestBankRejectsDuplicateAsset(t *testing.T) {
	bank := newTestBank(t)
	err := bank.RegisterAsset(types.Asset{Denom: "uatom", Decimals: 6})
	require.ErrorIs(t, err, ErrAssetExists)
}

func TestBankTransfer(t *testing.T) {
	bank := newTestBank(t)
	require.NoError(t, bank.Mint("alice", "uatom", sdkmath.NewInt(1000)))

	require.NoError(t, bank.Transfer("alice", "bob", "uatom", sdkmath.NewInt(400)))
	require.Equal(t, int64(600), bank.BalanceOf("alice", "uatom").Int64())
	require.Equal(t, int64(400), bank.BalanceOf("bob", "uatom").Int64())

	err := bank.Transfer("alice", "bob", "uatom", sdkmath.NewInt(601))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	err = bank.Transfer("alice", "bob", "uatom", sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestBankTransferFromConsumesAllowance(t *testing.T) {
	bank := newTestBank(t)
	require.NoError(t, bank.Mint("alice", "uusdc", sdkmath.NewInt(1000)))

	err := bank.TransferFrom("pool", "alice", "pool", "uusdc", sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, bank.Approve("alice", "pool", "uusdc", sdkmath.NewInt(150)))
	require.NoError(t, bank.TransferFrom("pool", "alice", "pool", "uusdc", sdkmath.NewInt(100)))

	// Only 50 allowance remains.
	err = bank.TransferFrom("pool", "alice", "pool", "uusdc", sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestReceiptMintBurn(t *testing.T) {
	receipt := NewReceipt("clr-atom-usdc", false, nil)

	require.NoError(t, receipt.Mint("alice", sdkmath.NewInt(500)))
	require.NoError(t, receipt.Mint("bob", sdkmath.NewInt(300)))
	require.Equal(t, int64(800), receipt.TotalSupply().Int64())

	err := receipt.Burn("bob", sdkmath.NewInt(301))
	require.ErrorIs(t, err, ErrBurnExceeds)

	require.NoError(t, receipt.Burn("bob", sdkmath.NewInt(300)))
	require.Equal(t, int64(500), receipt.TotalSupply().Int64())
}

func TestReceiptNonTransferable(t *testing.T) {
	receipt := NewReceipt("clr-atom-usdc", false, nil)
	require.NoError(t, receipt.Mint("alice", sdkmath.NewInt(100)))

	err := receipt.Transfer("alice", "bob", sdkmath.NewInt(10))
	require.ErrorIs(t, err, ErrNonTransferable)
}

type stubGuard struct {
	err     error
	stamped []types.Account
}

func (g *stubGuard) CheckAndStamp(account types.Account) error {
	if g.err != nil {
		return g.err
	}
	g.stamped = append(g.stamped, account)
	return nil
}

func TestReceiptTransferPassesGuard(t *testing.T) {
	guard := &stubGuard{}
	receipt := NewReceipt("clr-atom-usdc", true, guard)
	require.NoError(t, receipt.Mint("alice", sdkmath.NewInt(100)))

	require.NoError(t, receipt.Transfer("alice", "bob", sdkmath.NewInt(40)))
	require.Equal(t, []types.Account{"alice"}, guard.stamped)
	require.Equal(t, int64(60), receipt.BalanceOf("alice").Int64())
	require.Equal(t, int64(40), receipt.BalanceOf("bob").Int64())
}

func TestReceiptTransferFromGuardsOwner(t *testing.T) {
	guard := &stubGuard{}
	receipt := NewReceipt("clr-atom-usdc", true, guard)
	require.NoError(t, receipt.Mint("alice", sdkmath.NewInt(100)))

	require.NoError(t, receipt.TransferFrom("operator", "alice", "bob", sdkmath.NewInt(25)))
	// The guard applies to the account funds leave, not the spender.
	require.Equal(t, []types.Account{"alice"}, guard.stamped)
}
