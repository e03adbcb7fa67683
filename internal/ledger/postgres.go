package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists transactions in the transactions table (see
// sql/schema.sql). Amounts travel as text to keep decimal values exact.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const transactionColumns = `id, user_id, amount::text, currency, provider, provider_transaction_id, status, metadata, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, params CreateTransactionParams) (Transaction, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, amount, currency, provider, provider_transaction_id, status, metadata)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		id, params.UserID, params.Amount.String(), params.Currency,
		string(params.Provider), params.ProviderTransactionID, string(StatusPending), metadata,
	)

	tx, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation on (provider, provider_transaction_id)
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrDuplicateReference
		}
		return Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) GetByReference(ctx context.Context, provider Provider, reference string) (Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE provider = $1 AND provider_transaction_id = $2`,
		string(provider), reference,
	)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return tx, nil
}

// UpdateStatus performs the lookup-merge-write under a row lock so that
// concurrent deliveries of the same webhook serialize: exactly one caller
// observes transitioned=true, replays observe the existing terminal record.
func (s *PostgresStore) UpdateStatus(ctx context.Context, provider Provider, reference string, status Status, metadataPatch map[string]string) (Transaction, bool, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	row := dbTx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE provider = $1 AND provider_transaction_id = $2
		 FOR UPDATE`,
		string(provider), reference,
	)
	current, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, false, ErrNotFound
		}
		return Transaction{}, false, fmt.Errorf("failed to lock transaction: %w", err)
	}

	if current.Status == status {
		return current, false, nil
	}
	if !CanTransition(current.Status, status) {
		return Transaction{}, false, ErrInvalidTransition
	}

	merged := MergeMetadata(current.Metadata, metadataPatch)

	row = dbTx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $1, metadata = $2, updated_at = now()
		WHERE id = $3
		RETURNING `+transactionColumns,
		string(status), merged, current.ID,
	)
	updated, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return Transaction{}, false, fmt.Errorf("failed to commit status update: %w", err)
	}
	return updated, true, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		string(StatusPending), olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		tx       Transaction
		amount   string
		provider string
		status   string
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &amount, &tx.Currency, &provider,
		&tx.ProviderTransactionID, &status, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	tx.Provider = Provider(provider)
	tx.Status = Status(status)
	if tx.Metadata == nil {
		tx.Metadata = map[string]string{}
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var txs []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
