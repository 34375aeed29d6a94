package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/payops/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const intentColumns = `reference, merchant_id, provider, environment, amount, currency, email, status,
	provider_reference, payment_url, failure_reason, metadata, created_at, updated_at`

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := row.Scan(&p.Reference, &p.MerchantID, &p.Provider, &p.Environment, &p.Amount, &p.Currency,
		&p.Email, &p.Status, &p.ProviderReference, &p.PaymentURL, &p.FailureReason, &p.Metadata,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Postgres) CreateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	err := s.Db.QueryRow(ctx,
		`INSERT INTO payment_intents (reference, merchant_id, provider, environment, amount, currency, email,
			status, provider_reference, payment_url, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		p.Reference, p.MerchantID, p.Provider, p.Environment, p.Amount, p.Currency, p.Email,
		p.Status, p.ProviderReference, p.PaymentURL, nullJSON(p.Metadata),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("intent insert failed: %w", err)
	}
	return nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *Postgres) GetIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	return scanIntent(s.Db.QueryRow(ctx, "SELECT "+intentColumns+" FROM payment_intents WHERE reference = $1", reference))
}

func (s *Postgres) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM payment_intents WHERE reference = $1)", reference).Scan(&exists)
	return exists, err
}

func (s *Postgres) GetCredential(ctx context.Context, merchantID, provider string, env domain.Environment) (*domain.ProviderCredential, error) {
	var c domain.ProviderCredential
	err := s.Db.QueryRow(ctx,
		`SELECT merchant_id, provider, environment, secret_key, public_key, webhook_secret, active
		 FROM provider_credentials WHERE merchant_id = $1 AND provider = $2 AND environment = $3`,
		merchantID, provider, env,
	).Scan(&c.MerchantID, &c.Provider, &c.Environment, &c.SecretKey, &c.PublicKey, &c.WebhookSecret, &c.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Postgres) GetAPIClient(ctx context.Context, clientID string) (*domain.APIClient, error) {
	var c domain.APIClient
	err := s.Db.QueryRow(ctx,
		"SELECT id, merchant_id, secret_hash, environment, active, created_at FROM api_clients WHERE id = $1",
		clientID,
	).Scan(&c.ID, &c.MerchantID, &c.SecretHash, &c.Environment, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Postgres) GetRateLimitPolicy(ctx context.Context, clientID string) (*domain.RateLimitPolicy, error) {
	var p domain.RateLimitPolicy
	err := s.Db.QueryRow(ctx,
		`SELECT client_id, requests_per_minute, requests_per_hour, requests_per_day, burst_allowance
		 FROM rate_limit_policies WHERE client_id = $1`,
		clientID,
	).Scan(&p.ClientID, &p.RequestsPerMinute, &p.RequestsPerHour, &p.RequestsPerDay, &p.BurstAllowance)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Postgres) GetWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.Db.QueryRow(ctx,
		"SELECT id, owner_id, currency, balance, created_at FROM wallets WHERE owner_id = $1 AND currency = $2",
		ownerID, currency,
	).Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Balance, &w.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// ListEntries returns the newest entries of a wallet first.
func (s *Postgres) ListEntries(ctx context.Context, walletID int64, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, wallet_id, entry_type, source, amount, reference, created_at
		 FROM ledger_entries WHERE wallet_id = $1 ORDER BY id DESC LIMIT $2`,
		walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Type, &e.Source, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordWebhookEvent stores a delivery; a repeated payload bumps its delivery count.
func (s *Postgres) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	err := s.Db.QueryRow(ctx,
		`INSERT INTO webhook_events (provider, event, reference, payload_hash, payload, signature_valid)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, payload_hash)
		 DO UPDATE SET deliveries = webhook_events.deliveries + 1,
		               signature_valid = webhook_events.signature_valid OR EXCLUDED.signature_valid
		 RETURNING id, received_at, deliveries`,
		ev.Provider, ev.Event, ev.Reference, ev.PayloadHash, ev.Payload, ev.SignatureValid,
	).Scan(&ev.ID, &ev.ReceivedAt, &ev.Deliveries)
	if err != nil {
		return fmt.Errorf("webhook event insert failed: %w", err)
	}
	return nil
}

func (s *Postgres) SetWebhookResult(ctx context.Context, provider, payloadHash, processingError string) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE webhook_events SET processing_error = $1 WHERE provider = $2 AND payload_hash = $3",
		processingError, provider, payloadHash)
	return err
}

func (s *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockIntent takes the row lock that serializes settlement per reference.
func (t *pgTx) LockIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	return scanIntent(t.tx.QueryRow(ctx,
		"SELECT "+intentColumns+" FROM payment_intents WHERE reference = $1 FOR UPDATE", reference))
}

func (t *pgTx) UpdateIntentStatus(ctx context.Context, reference string, status domain.IntentStatus, reason string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payment_intents SET status = $1, failure_reason = $2, updated_at = now()
		 WHERE reference = $3 AND status = 'pending'`,
		status, reason, reference)
	if err != nil {
		return fmt.Errorf("intent update failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("intent %s is not pending", reference)
	}
	return nil
}

func (t *pgTx) LockWallets(ctx context.Context, keys []WalletKey) (map[WalletKey]*domain.Wallet, error) {
	out := make(map[WalletKey]*domain.Wallet, len(keys))
	for _, k := range SortWalletKeys(keys) {
		_, err := t.tx.Exec(ctx,
			"INSERT INTO wallets (owner_id, currency) VALUES ($1, $2) ON CONFLICT (owner_id, currency) DO NOTHING",
			k.OwnerID, k.Currency)
		if err != nil {
			return nil, fmt.Errorf("wallet create failed: %w", err)
		}

		var w domain.Wallet
		err = t.tx.QueryRow(ctx,
			"SELECT id, owner_id, currency, balance, created_at FROM wallets WHERE owner_id = $1 AND currency = $2 FOR UPDATE",
			k.OwnerID, k.Currency,
		).Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Balance, &w.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		out[k] = &w
	}
	return out, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, walletID, delta int64) error {
	_, err := t.tx.Exec(ctx, "UPDATE wallets SET balance = balance + $1 WHERE id = $2", delta, walletID)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			"INSERT INTO ledger_entries (wallet_id, entry_type, source, amount, reference) VALUES ($1, $2, $3, $4, $5)",
			e.WalletID, e.Type, e.Source, e.Amount, e.Reference)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO withdrawals (reference, merchant_id, provider, currency, amount, fee, account_number,
			bank_code, account_name, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
		w.Reference, w.MerchantID, w.Provider, w.Currency, w.Amount, w.Fee, w.AccountNumber,
		w.BankCode, w.AccountName, w.Status,
	).Scan(&w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("withdrawal insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, reference string, status domain.WithdrawalStatus) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE withdrawals SET status = $1, updated_at = now() WHERE reference = $2", status, reference)
	if err != nil {
		return fmt.Errorf("withdrawal update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
