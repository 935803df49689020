package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// newTestStore starts a disposable postgres container, migrates it
// and returns a store on it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(connStr))

	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewStore(StoreConfig{Logger: slog.New(slog.DiscardHandler), Pool: pool})
	require.NoError(t, err)
	return store
}

func TestOnlyYield_Ledger_Store(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	donor := "0xDDDD000000000000000000000000000000000001"
	recipientA := "0xAAAA000000000000000000000000000000000001"
	recipientB := "0xBBBB000000000000000000000000000000000002"
	depositHash := "0x" + "11" + "00112233445566778899aabbccddeeff00112233445566778899aabbccdd"

	newDonation := func(t *testing.T, recipients []string) uuid.UUID {
		t.Helper()
		id, err := store.CreateDonation(ctx, CreateDonationParams{
			DonorWalletAddress: donor,
			ChainID:            8453,
			InputAssetAddress:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			TargetAssetAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			AmountIn:           "10",
			AmountInBaseUnits:  "10000000",
			DepositTxHash:      depositHash,
			Recipients:         recipients,
		})
		require.NoError(t, err)
		return id
	}

	t.Run("recipient upsert and lookup", func(t *testing.T) {
		name := "alice"
		chain := "Polygon"
		require.NoError(t, store.UpsertRecipient(ctx, Recipient{
			WalletAddress:  recipientA,
			DisplayName:    &name,
			SocialLinks:    []string{"https://example.com/alice"},
			PreferredChain: &chain,
		}))
		require.NoError(t, store.UpsertRecipient(ctx, Recipient{WalletAddress: recipientB}))

		recipients, err := store.ListRecipients(ctx)
		require.NoError(t, err)
		require.Len(t, recipients, 2)

		// Lookup is case-insensitive and preferred chain is lowercased.
		byAddr, err := store.RecipientsByAddresses(ctx, []string{recipientA})
		require.NoError(t, err)
		r, ok := byAddr["0xaaaa000000000000000000000000000000000001"]
		require.True(t, ok)
		require.NotNil(t, r.PreferredChain)
		require.Equal(t, "polygon", *r.PreferredChain)
		require.Equal(t, "alice", *r.DisplayName)

		// Upsert overwrites the profile.
		newName := "alice2"
		require.NoError(t, store.UpsertRecipient(ctx, Recipient{WalletAddress: recipientA, DisplayName: &newName}))
		byAddr, err = store.RecipientsByAddresses(ctx, []string{recipientA})
		require.NoError(t, err)
		require.Equal(t, "alice2", *byAddr["0xaaaa000000000000000000000000000000000001"].DisplayName)
		require.Nil(t, byAddr["0xaaaa000000000000000000000000000000000001"].PreferredChain)
	})

	t.Run("donation lifecycle", func(t *testing.T) {
		id := newDonation(t, []string{recipientA, recipientB, recipientA}) // duplicate collapses

		d, err := store.GetDonation(ctx, id)
		require.NoError(t, err)
		require.False(t, d.Withdrawn)
		require.Equal(t, "0xdddd000000000000000000000000000000000001", d.DonorWalletAddress)

		selections, err := store.SelectionsForDonation(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []string{
			"0xaaaa000000000000000000000000000000000001",
			"0xbbbb000000000000000000000000000000000002",
		}, selections)

		active, err := store.ListActiveDonations(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, active)

		listed, err := store.ListDonations(ctx, donor, 0)
		require.NoError(t, err)
		require.NotEmpty(t, listed)

		withdrawHash := "0x" + "22" + "00112233445566778899aabbccddeeff00112233445566778899aabbccdd"
		require.NoError(t, store.MarkWithdrawn(ctx, id, withdrawHash))

		d, err = store.GetDonation(ctx, id)
		require.NoError(t, err)
		require.True(t, d.Withdrawn)
		require.NotNil(t, d.WithdrawTxHash)

		// Terminal: a second mark fails, and the donation no longer
		// shows up as active.
		err = store.MarkWithdrawn(ctx, id, withdrawHash)
		require.ErrorIs(t, err, ErrAlreadyWithdrawn)

		active, err = store.ListActiveDonations(ctx)
		require.NoError(t, err)
		for _, a := range active {
			require.NotEqual(t, id, a.ID)
		}
	})

	t.Run("get missing donation", func(t *testing.T) {
		_, err := store.GetDonation(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)

		err = store.MarkWithdrawn(ctx, uuid.New(), "0xabc")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("donor selections replace set", func(t *testing.T) {
		require.NoError(t, store.ReplaceDonorSelections(ctx, donor, []string{recipientA, recipientB}))
		sel, err := store.DonorSelections(ctx, donor)
		require.NoError(t, err)
		require.Len(t, sel, 2)

		require.NoError(t, store.ReplaceDonorSelections(ctx, donor, []string{recipientB}))
		sel, err = store.DonorSelections(ctx, donor)
		require.NoError(t, err)
		require.Equal(t, []string{"0xbbbb000000000000000000000000000000000002"}, sel)
	})

	t.Run("yield distributions", func(t *testing.T) {
		id := newDonation(t, []string{recipientA})

		transferHash := "0x" + "33" + "00112233445566778899aabbccddeeff00112233445566778899aabbccdd"
		require.NoError(t, store.InsertYieldDistribution(ctx, YieldDistribution{
			ChainID:                8453,
			DonationID:             id,
			DonorWalletAddress:     donor,
			RecipientWalletAddress: recipientA,
			ClaimedTxHash:          transferHash,
			TransferTxHash:         &transferHash,
			AmountBaseUnits:        "100000",
			Amount:                 "0.1",
		}))

		byDonor, err := store.ListYieldDistributions(ctx, donor, "", 0)
		require.NoError(t, err)
		require.NotEmpty(t, byDonor)

		byRecipient, err := store.ListYieldDistributions(ctx, "", recipientA, 0)
		require.NoError(t, err)
		require.NotEmpty(t, byRecipient)
		require.Equal(t, "100000", byRecipient[0].AmountBaseUnits)

		both, err := store.ListYieldDistributions(ctx, donor, recipientB, 0)
		require.NoError(t, err)
		require.Empty(t, both)
	})

	t.Run("donations attributed to a recipient", func(t *testing.T) {
		newDonation(t, []string{recipientA, recipientB})

		entries, err := store.DonationsForRecipient(ctx, recipientA)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		// amount_in is 10, split across two recipients.
		require.Equal(t, "5", entries[0].Amount)
	})
}
