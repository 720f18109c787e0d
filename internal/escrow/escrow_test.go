package escrow

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
)

const (
	escrowAddr = "escrow"
	manager    = "manager"
	source     = "clr-pool"
	alice      = "alice"
	denom      = "ureward"
)

type fixture struct {
	bank     *token.Bank
	escrow   *Escrow
	recorder *events.MemoryRecorder
	now      time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) fundEscrow(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.bank.Mint(escrowAddr, denom, sdkmath.NewInt(amount)))
}

func newFixture(t *testing.T, maxEntries int) *fixture {
	t.Helper()
	bank := token.NewBank()
	require.NoError(t, bank.RegisterAsset(types.Asset{Denom: denom, Decimals: 6}))

	recorder := &events.MemoryRecorder{}
	esc, err := NewEscrow(bank, escrowAddr, manager, maxEntries, recorder)
	require.NoError(t, err)

	f := &fixture{bank: bank, escrow: esc, recorder: recorder, now: time.Unix(1_700_000_000, 0)}
	esc.SetNowFunc(func() time.Time { return f.now })
	require.NoError(t, esc.AddRewardsContract(manager, source, 100*time.Second))
	return f
}

func TestRegistrationIsIdempotent(t *testing.T) {
	f := newFixture(t, 5)

	// Second add with the same source: silent no-op, one "added" event total.
	require.NoError(t, f.escrow.AddRewardsContract(manager, source, 999*time.Second))
	require.Len(t, f.recorder.OfType(events.TypeRewardsContractAdded), 1)

	require.NoError(t, f.escrow.RemoveRewardsContract(manager, source))
	require.NoError(t, f.escrow.RemoveRewardsContract(manager, source))
	require.Len(t, f.recorder.OfType(events.TypeRewardsContractRemoved), 1)
}

func TestRegistrationRequiresManager(t *testing.T) {
	f := newFixture(t, 5)
	err := f.escrow.AddRewardsContract("mallory", "other", time.Hour)
	require.ErrorIs(t, err, ErrUnauthorized)
	err = f.escrow.RemoveRewardsContract("mallory", source)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAppendRequiresRegisteredSource(t *testing.T) {
	f := newFixture(t, 5)
	f.fundEscrow(t, 1_000)
	err := f.escrow.AppendVestingEntry("unknown", denom, alice, sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrUnregisteredSource)
}

func TestAppendChecksHoldings(t *testing.T) {
	f := newFixture(t, 5)
	f.fundEscrow(t, 150)

	require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(100)))

	// 50 remains uncommitted; a 100 entry would promise more than held.
	err := f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientEscrowBalance)

	require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(50)))
}

func TestScheduleCap(t *testing.T) {
	maxEntries := 5
	f := newFixture(t, maxEntries)
	f.fundEscrow(t, 1_000)

	for i := 0; i < maxEntries; i++ {
		require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(10)))
		f.advance(time.Second)
	}

	err := f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(10))
	require.ErrorIs(t, err, ErrScheduleTooLong)

	// Vesting the earliest entries frees capacity.
	f.advance(100 * time.Second)
	released, err := f.escrow.Vest(alice, source, denom)
	require.NoError(t, err)
	require.True(t, released.IsPositive())
	require.Less(t, f.escrow.NumVestingEntries(alice, source, denom), maxEntries)

	require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(10)))
}

func TestVestReleasesFIFO(t *testing.T) {
	f := newFixture(t, 10)
	f.fundEscrow(t, 1_000)

	// Three entries 10 seconds apart, each vesting 100 seconds after append.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(100)))
		f.advance(10 * time.Second)
	}
	// now = t0+30; releases at t0+100, t0+110, t0+120.

	// Nothing due: zero, no error, schedule untouched.
	released, err := f.escrow.Vest(alice, source, denom)
	require.NoError(t, err)
	require.True(t, released.IsZero())
	require.Equal(t, 3, f.escrow.NumVestingEntries(alice, source, denom))

	// Advance past the first two release times only.
	f.advance(85 * time.Second) // now = t0+115
	released, err = f.escrow.Vest(alice, source, denom)
	require.NoError(t, err)
	require.Equal(t, int64(200), released.Int64())
	require.Equal(t, 1, f.escrow.NumVestingEntries(alice, source, denom))
	require.Equal(t, int64(200), f.bank.BalanceOf(alice, denom).Int64())
	require.Equal(t, int64(100), f.escrow.TotalEscrowed(denom).Int64())

	// The remainder vests later.
	f.advance(10 * time.Second)
	released, err = f.escrow.Vest(alice, source, denom)
	require.NoError(t, err)
	require.Equal(t, int64(100), released.Int64())
	require.Equal(t, 0, f.escrow.NumVestingEntries(alice, source, denom))
	require.True(t, f.escrow.TotalEscrowed(denom).IsZero())
}

func TestVestAllSpansAssets(t *testing.T) {
	f := newFixture(t, 10)
	other := "urewardb"
	require.NoError(t, f.bank.RegisterAsset(types.Asset{Denom: other, Decimals: 6}))
	f.fundEscrow(t, 500)
	require.NoError(t, f.bank.Mint(escrowAddr, other, sdkmath.NewInt(500)))

	require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(200)))
	require.NoError(t, f.escrow.AppendVestingEntry(source, other, alice, sdkmath.NewInt(300)))

	f.advance(200 * time.Second)
	out, err := f.escrow.VestAll(alice, source, []string{denom, other})
	require.NoError(t, err)
	require.Equal(t, int64(200), out[denom].Int64())
	require.Equal(t, int64(300), out[other].Int64())
}

func TestRemovedSourceSchedulesKeepVesting(t *testing.T) {
	f := newFixture(t, 10)
	f.fundEscrow(t, 100)
	require.NoError(t, f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(100)))
	require.NoError(t, f.escrow.RemoveRewardsContract(manager, source))

	// Appends stop, existing entries still release.
	err := f.escrow.AppendVestingEntry(source, denom, alice, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrUnregisteredSource)

	f.advance(200 * time.Second)
	released, err := f.escrow.Vest(alice, source, denom)
	require.NoError(t, err)
	require.Equal(t, int64(100), released.Int64())
}
