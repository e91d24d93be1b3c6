package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/shopspring/decimal"
)

const transactionColumns = `id, reference, type, amount, from_account_id, to_account_id,
	payee_reference, description, status, failure_reason, initiated_by, approved_by,
	created_at, processed_at`

// txRow is a scanned transaction row whose accounts are not loaded yet.
type txRow struct {
	tx     *transaction.Transaction
	fromID sql.NullInt64
	toID   sql.NullInt64
}

func scanTransaction(row scanner) (*txRow, error) {
	r := &txRow{tx: &transaction.Transaction{}}
	tx := r.tx
	var (
		typ, status string
		approvedBy  sql.NullInt64
		createdAt   int64
		processedAt sql.NullInt64
	)
	err := row.Scan(
		&tx.ID, &tx.Reference, &typ, &tx.Amount, &r.fromID, &r.toID,
		&tx.PayeeReference, &tx.Description, &status, &tx.FailureReason, &tx.InitiatedBy, &approvedBy,
		&createdAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = transaction.Type(typ)
	tx.Status = transaction.Status(status)
	tx.CreatedAt = time.UnixMilli(createdAt).UTC()
	if approvedBy.Valid {
		v := approvedBy.Int64
		tx.ApprovedBy = &v
	}
	if processedAt.Valid {
		v := time.UnixMilli(processedAt.Int64).UTC()
		tx.ProcessedAt = &v
	}
	return r, nil
}

func nullAccountID(id int64, ok bool) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: ok}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullUser(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func (s *Store) insertTransaction(ctx context.Context, tx *transaction.Transaction, ref string) (int64, error) {
	var fromID, toID sql.NullInt64
	if tx.From != nil {
		fromID = nullAccountID(tx.From.ID, true)
	}
	if tx.To != nil {
		toID = nullAccountID(tx.To.ID, true)
	}

	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO transactions (reference, type, amount, from_account_id, to_account_id,
			payee_reference, description, status, failure_reason, initiated_by, approved_by,
			created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ref, string(tx.Type), tx.Amount, fromID, toID,
		tx.PayeeReference, tx.Description, string(tx.Status), tx.FailureReason, tx.InitiatedBy, nullUser(tx.ApprovedBy),
		tx.CreatedAt.UnixMilli(), nullMillis(tx.ProcessedAt),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: reference %s", store.ErrDuplicate, ref)
		}
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return id, nil
}

func (s *Store) updateTransaction(ctx context.Context, tx *transaction.Transaction) error {
	res, err := s.exec(ctx, `
		UPDATE transactions SET status = ?, failure_reason = ?, approved_by = ?, processed_at = ?,
			description = ?
		WHERE id = ?`,
		string(tx.Status), tx.FailureReason, nullUser(tx.ApprovedBy), nullMillis(tx.ProcessedAt),
		tx.Description,
		tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %d", store.ErrNotFound, tx.ID)
	}
	return nil
}

// replaceAudit rewrites the audit rows of a transaction.
func (s *Store) replaceAudit(ctx context.Context, txID int64, entries []transaction.AuditEntry) error {
	if _, err := s.exec(ctx, "DELETE FROM transaction_audit WHERE transaction_id = ?", txID); err != nil {
		return fmt.Errorf("failed to clear audit of transaction %d: %w", txID, err)
	}
	for i, e := range entries {
		_, err := s.exec(ctx, `
			INSERT INTO transaction_audit (transaction_id, seq, handler, message, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			txID, i, e.Handler, e.Message, e.At.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry %d of transaction %d: %w", i, txID, err)
		}
	}
	return nil
}

func (s *Store) loadAudit(ctx context.Context, txID int64) ([]transaction.AuditEntry, error) {
	rows, err := s.query(ctx, `
		SELECT handler, message, recorded_at FROM transaction_audit
		WHERE transaction_id = ? ORDER BY seq`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []transaction.AuditEntry
	for rows.Next() {
		var e transaction.AuditEntry
		var at int64
		if err := rows.Scan(&e.Handler, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// resolve attaches accounts and the audit log to scanned rows. It runs after
// the row cursor is closed so that a single connection is enough.
func (s *Store) resolve(ctx context.Context, rows []*txRow) ([]*transaction.Transaction, error) {
	out := make([]*transaction.Transaction, 0, len(rows))
	for _, r := range rows {
		tx := r.tx
		if r.fromID.Valid {
			a, err := s.FindAccountByID(ctx, r.fromID.Int64)
			if err != nil {
				return nil, err
			}
			tx.From = a
		}
		if r.toID.Valid {
			a, err := s.FindAccountByID(ctx, r.toID.Int64)
			if err != nil {
				return nil, err
			}
			tx.To = a
		}
		audit, err := s.loadAudit(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		tx.RestoreAudit(audit)
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) findOne(ctx context.Context, where string, arg any, label string) (*transaction.Transaction, error) {
	r, err := scanTransaction(s.queryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, label)
		}
		return nil, fmt.Errorf("failed to query transaction %s: %w", label, err)
	}
	txs, err := s.resolve(ctx, []*txRow{r})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (s *Store) findMany(ctx context.Context, query string, args ...any) ([]*transaction.Transaction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var scanned []*txRow
	for rows.Next() {
		r, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		scanned = append(scanned, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return s.resolve(ctx, scanned)
}

// FindTransactionByID implements store.TransactionRepository.
func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*transaction.Transaction, error) {
	return s.findOne(ctx, "id = ?", id, fmt.Sprint(id))
}

// FindTransactionByReference implements store.TransactionRepository.
func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return s.findOne(ctx, "reference = ?", reference, reference)
}

// FindTransactionsByStatus implements store.TransactionRepository.
func (s *Store) FindTransactionsByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error) {
	return s.findMany(ctx, "SELECT "+transactionColumns+`
		FROM transactions WHERE status = ?
		ORDER BY created_at, id`, string(status))
}

// FindTransactionsByAccount implements store.TransactionRepository.
func (s *Store) FindTransactionsByAccount(ctx context.Context, accountID int64, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.findMany(ctx, "SELECT "+transactionColumns+`
		FROM transactions WHERE from_account_id = ? OR to_account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, accountID, accountID, limit)
}

// CountCompletedSince implements store.TransactionRepository.
func (s *Store) CountCompletedSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE from_account_id = ? AND status = ? AND created_at >= ?`,
		accountID, string(transaction.StatusCompleted), since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed transactions: %w", err)
	}
	return n, nil
}

// SumCompleted implements store.TransactionRepository. Amounts are added in
// Go because SQLite stores them as text.
func (s *Store) SumCompleted(ctx context.Context, accountID int64, typ transaction.Type, since, until time.Time) (decimal.Decimal, error) {
	rows, err := s.query(ctx, `
		SELECT amount FROM transactions
		WHERE (from_account_id = ? OR to_account_id = ?) AND type = ? AND status = ?
			AND created_at >= ? AND created_at < ?`,
		accountID, accountID, string(typ), string(transaction.StatusCompleted),
		since.UnixMilli(), until.UnixMilli(),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query completed amounts: %w", err)
	}
	return sumAmounts(rows)
}
