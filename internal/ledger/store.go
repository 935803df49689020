package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for goose
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyWithdrawn is returned when marking a donation that is
	// already in its terminal state.
	ErrAlreadyWithdrawn = errors.New("donation already withdrawn")
)

// Store is the pgx-backed ledger. Addresses are normalized to
// lowercase on every write and lookup so mixed-case wallets collapse
// to one identity.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// StoreConfig holds ledger store configuration.
type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (c *StoreConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	return nil
}

// NewStore creates a ledger store on an existing pool.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// Connect opens a connection pool against the configured database,
// optionally running migrations first.
func Connect(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connStr := cfg.ConnString()

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := Migrate(connStr); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info("ledger: connected to postgres", "host", cfg.Host, "database", cfg.Database)
	return NewStore(StoreConfig{Logger: log, Pool: pool})
}

// Migrate applies embedded goose migrations to the given database.
func Migrate(connStr string) error {
	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertDonor records a donor wallet, ignoring repeats.
func (s *Store) UpsertDonor(ctx context.Context, walletAddress string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO donors (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`,
		normalize(walletAddress))
	if err != nil {
		return fmt.Errorf("failed to upsert donor: %w", err)
	}
	return nil
}

// UpsertRecipient registers or updates a recipient profile.
func (s *Store) UpsertRecipient(ctx context.Context, r Recipient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recipients (wallet_address, display_name, profile_pic_url, social_links, preferred_chain)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			profile_pic_url = EXCLUDED.profile_pic_url,
			social_links = EXCLUDED.social_links,
			preferred_chain = EXCLUDED.preferred_chain`,
		normalize(r.WalletAddress), r.DisplayName, r.ProfilePicURL, r.SocialLinks, lowerPtr(r.PreferredChain))
	if err != nil {
		return fmt.Errorf("failed to upsert recipient: %w", err)
	}
	return nil
}

// ListRecipients returns all registered recipients, newest first.
func (s *Store) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, display_name, profile_pic_url, social_links, preferred_chain, created_at
		FROM recipients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

// RecipientsByAddresses returns the recipients for the given wallets,
// keyed by normalized address. Unknown wallets are simply absent.
func (s *Store) RecipientsByAddresses(ctx context.Context, addresses []string) (map[string]Recipient, error) {
	if len(addresses) == 0 {
		return map[string]Recipient{}, nil
	}
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		normalized = append(normalized, normalize(a))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, display_name, profile_pic_url, social_links, preferred_chain, created_at
		FROM recipients WHERE wallet_address = ANY($1)`, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recipients: %w", err)
	}
	defer rows.Close()

	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Recipient, len(recipients))
	for _, r := range recipients {
		out[r.WalletAddress] = r
	}
	return out, nil
}

// CreateDonation inserts a deposit record along with its recipient
// selections, upserting the donor first. Runs in one transaction.
func (s *Store) CreateDonation(ctx context.Context, params CreateDonationParams) (uuid.UUID, error) {
	donor := normalize(params.DonorWalletAddress)
	id := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO donors (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`, donor); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert donor: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO donations (id, donor_wallet_address, chain_id, input_asset_address, target_asset_address,
			amount_in, amount_in_base_units, deposit_tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, donor, params.ChainID, normalize(params.InputAssetAddress), normalize(params.TargetAssetAddress),
		params.AmountIn, params.AmountInBaseUnits, params.DepositTxHash); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert donation: %w", err)
	}

	for _, recipient := range dedupe(params.Recipients) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO donation_recipient_selections (donation_id, recipient_wallet_address)
			VALUES ($1, $2)`, id, recipient); err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert donation selection: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit donation: %w", err)
	}
	return id, nil
}

// ListDonations returns donations newest first, optionally filtered
// by donor.
func (s *Store) ListDonations(ctx context.Context, donor string, limit int) ([]Donation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, donor_wallet_address, chain_id, input_asset_address, target_asset_address,
			amount_in, amount_in_base_units, deposit_tx_hash, withdrawn, withdraw_tx_hash, created_at
		FROM donations`
	args := []any{}
	if donor != "" {
		query += ` WHERE donor_wallet_address = $1`
		args = append(args, normalize(donor))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	defer rows.Close()
	return scanDonations(rows)
}

// ListActiveDonations returns all non-withdrawn donations oldest
// first, the order distribution cycles process them in.
func (s *Store) ListActiveDonations(ctx context.Context) ([]Donation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, donor_wallet_address, chain_id, input_asset_address, target_asset_address,
			amount_in, amount_in_base_units, deposit_tx_hash, withdrawn, withdraw_tx_hash, created_at
		FROM donations WHERE NOT withdrawn ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active donations: %w", err)
	}
	defer rows.Close()
	return scanDonations(rows)
}

// GetDonation fetches a single donation.
func (s *Store) GetDonation(ctx context.Context, id uuid.UUID) (Donation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, donor_wallet_address, chain_id, input_asset_address, target_asset_address,
			amount_in, amount_in_base_units, deposit_tx_hash, withdrawn, withdraw_tx_hash, created_at
		FROM donations WHERE id = $1`, id)

	var d Donation
	err := row.Scan(&d.ID, &d.DonorWalletAddress, &d.ChainID, &d.InputAssetAddress, &d.TargetAssetAddress,
		&d.AmountIn, &d.AmountInBaseUnits, &d.DepositTxHash, &d.Withdrawn, &d.WithdrawTxHash, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Donation{}, ErrNotFound
	}
	if err != nil {
		return Donation{}, fmt.Errorf("failed to get donation: %w", err)
	}
	return d, nil
}

// MarkWithdrawn flips a donation into its terminal withdrawn state.
// The guard lives in the SQL so a concurrent double-withdraw cannot
// both succeed.
func (s *Store) MarkWithdrawn(ctx context.Context, id uuid.UUID, withdrawTxHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE donations SET withdrawn = TRUE, withdraw_tx_hash = $2
		WHERE id = $1 AND NOT withdrawn`, id, withdrawTxHash)
	if err != nil {
		return fmt.Errorf("failed to mark donation withdrawn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetDonation(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyWithdrawn
	}
	return nil
}

// SelectionsForDonation returns a donation's recipient wallets in
// insertion order.
func (s *Store) SelectionsForDonation(ctx context.Context, donationID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT recipient_wallet_address FROM donation_recipient_selections
		WHERE donation_id = $1 ORDER BY id ASC`, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch donation selections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// ReplaceDonorSelections replaces a donor's default recipient set in
// one transaction.
func (s *Store) ReplaceDonorSelections(ctx context.Context, donor string, recipients []string) error {
	donor = normalize(donor)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO donors (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`, donor); err != nil {
		return fmt.Errorf("failed to upsert donor: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM donor_recipient_selections WHERE donor_wallet_address = $1`, donor); err != nil {
		return fmt.Errorf("failed to clear donor selections: %w", err)
	}
	for _, recipient := range dedupe(recipients) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO donor_recipient_selections (donor_wallet_address, recipient_wallet_address)
			VALUES ($1, $2)`, donor, recipient); err != nil {
			return fmt.Errorf("failed to insert donor selection: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit donor selections: %w", err)
	}
	return nil
}

// DonorSelections returns a donor's default recipient set.
func (s *Store) DonorSelections(ctx context.Context, donor string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT recipient_wallet_address FROM donor_recipient_selections
		WHERE donor_wallet_address = $1 ORDER BY created_at ASC`, normalize(donor))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch donor selections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// InsertYieldDistribution appends one settled payout leg to the
// ledger.
func (s *Store) InsertYieldDistribution(ctx context.Context, d YieldDistribution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO yield_distributions (chain_id, donation_id, donor_wallet_address, recipient_wallet_address,
			claimed_tx_hash, transfer_tx_hash, amount_base_units, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ChainID, d.DonationID, normalize(d.DonorWalletAddress), normalize(d.RecipientWalletAddress),
		d.ClaimedTxHash, d.TransferTxHash, d.AmountBaseUnits, d.Amount)
	if err != nil {
		return fmt.Errorf("failed to insert yield distribution: %w", err)
	}
	return nil
}

// ListYieldDistributions returns distribution rows newest first,
// optionally filtered by donor and/or recipient.
func (s *Store) ListYieldDistributions(ctx context.Context, donor, recipient string, limit int) ([]YieldDistribution, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, chain_id, donation_id, donor_wallet_address, recipient_wallet_address,
			claimed_tx_hash, transfer_tx_hash, amount_base_units, amount, created_at
		FROM yield_distributions`
	var wheres []string
	var args []any
	if donor != "" {
		args = append(args, normalize(donor))
		wheres = append(wheres, fmt.Sprintf("donor_wallet_address = $%d", len(args)))
	}
	if recipient != "" {
		args = append(args, normalize(recipient))
		wheres = append(wheres, fmt.Sprintf("recipient_wallet_address = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list yield distributions: %w", err)
	}
	defer rows.Close()

	var out []YieldDistribution
	for rows.Next() {
		var d YieldDistribution
		if err := rows.Scan(&d.ID, &d.ChainID, &d.DonationID, &d.DonorWalletAddress, &d.RecipientWalletAddress,
			&d.ClaimedTxHash, &d.TransferTxHash, &d.AmountBaseUnits, &d.Amount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan yield distribution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DonationsForRecipient attributes donations to one recipient: each
// donation's principal divided equally across however many recipients
// share it. Newest first.
func (s *Store) DonationsForRecipient(ctx context.Context, recipient string) ([]RecipientDonation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sel.donation_id, d.created_at, d.amount_in,
			(SELECT COUNT(*) FROM donation_recipient_selections all_sel WHERE all_sel.donation_id = sel.donation_id)
		FROM donation_recipient_selections sel
		JOIN donations d ON d.id = sel.donation_id
		WHERE sel.recipient_wallet_address = $1
		ORDER BY d.created_at DESC
		LIMIT 500`, normalize(recipient))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recipient donations: %w", err)
	}
	defer rows.Close()

	var out []RecipientDonation
	for rows.Next() {
		var (
			entry    RecipientDonation
			amountIn string
			count    int64
		)
		if err := rows.Scan(&entry.DonationID, &entry.CreatedAt, &amountIn, &count); err != nil {
			return nil, fmt.Errorf("failed to scan recipient donation: %w", err)
		}
		if count < 1 {
			count = 1
		}
		amount, err := decimal.NewFromString(amountIn)
		if err != nil {
			amount = decimal.Zero
		}
		entry.Amount = amount.Div(decimal.NewFromInt(count)).String()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanRecipients(rows pgx.Rows) ([]Recipient, error) {
	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.WalletAddress, &r.DisplayName, &r.ProfilePicURL, &r.SocialLinks, &r.PreferredChain, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanDonations(rows pgx.Rows) ([]Donation, error) {
	var out []Donation
	for rows.Next() {
		var d Donation
		if err := rows.Scan(&d.ID, &d.DonorWalletAddress, &d.ChainID, &d.InputAssetAddress, &d.TargetAssetAddress,
			&d.AmountIn, &d.AmountInBaseUnits, &d.DepositTxHash, &d.Withdrawn, &d.WithdrawTxHash, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func lowerPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := normalize(*s)
	if v == "" {
		return nil
	}
	return &v
}

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = normalize(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
