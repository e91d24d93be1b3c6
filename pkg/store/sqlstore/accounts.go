package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"

	"github.com/shopspring/decimal"
)

const accountColumns = `id, number, owner_id, kind, status, created_at,
	balance, overdraft_limit, minimum_balance, interest_rate, group_id,
	monthly_withdrawal_limit, withdrawals_this_month, withdrawal_period,
	name, description, group_type, max_members`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*account.Account, error) {
	a := &account.Account{}
	var (
		kind, status, groupType string
		createdAt               int64
		groupID                 sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.Number, &a.OwnerID, &kind, &status, &createdAt,
		&a.Balance, &a.OverdraftLimit, &a.MinimumBalance, &a.InterestRate, &groupID,
		&a.MonthlyWithdrawalLimit, &a.WithdrawalsThisMonth, &a.WithdrawalPeriod,
		&a.Name, &a.Description, &groupType, &a.MaxMembers,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = account.Kind(kind)
	a.Status = account.Status(status)
	a.GroupType = account.GroupType(groupType)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	if groupID.Valid {
		id := groupID.Int64
		a.GroupID = &id
	}
	return a, nil
}

func nullGroupID(a *account.Account) sql.NullInt64 {
	if a.GroupID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *a.GroupID, Valid: true}
}

// findAccount loads one account and, for a group, its members.
func (s *Store) findAccount(ctx context.Context, where string, arg any, label string) (*account.Account, error) {
	row := s.queryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE "+where, arg)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, label)
		}
		return nil, fmt.Errorf("failed to query account %s: %w", label, err)
	}

	if a.IsComposite() {
		members, err := s.ListGroupMembers(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if err := a.Add(m); err != nil {
				return nil, fmt.Errorf("attach member %s to %s: %w", m.Number, a.Number, err)
			}
		}
	}
	return a, nil
}

// FindAccountByID implements store.AccountRepository.
func (s *Store) FindAccountByID(ctx context.Context, id int64) (*account.Account, error) {
	return s.findAccount(ctx, "id = ?", id, fmt.Sprint(id))
}

// FindAccountByNumber implements store.AccountRepository.
func (s *Store) FindAccountByNumber(ctx context.Context, number string) (*account.Account, error) {
	return s.findAccount(ctx, "number = ?", number, number)
}

// ListGroupMembers implements store.AccountRepository.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]*account.Account, error) {
	rows, err := s.query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE group_id = ? ORDER BY id", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	var members []*account.Account
	for rows.Next() {
		m, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListAccountNumbers implements store.NumberLister.
func (s *Store) ListAccountNumbers(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT number FROM accounts ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("failed to query account numbers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan account number: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateAccount implements store.AccountRepository.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	row := s.queryRow(ctx, `
		INSERT INTO accounts (number, owner_id, kind, status, created_at,
			balance, overdraft_limit, minimum_balance, interest_rate, group_id,
			monthly_withdrawal_limit, withdrawals_this_month, withdrawal_period,
			name, description, group_type, max_members)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.Number, a.OwnerID, string(a.Kind), string(a.Status), a.CreatedAt.UnixMilli(),
		a.Balance, a.OverdraftLimit, a.MinimumBalance, a.InterestRate, nullGroupID(a),
		a.MonthlyWithdrawalLimit, a.WithdrawalsThisMonth, a.WithdrawalPeriod,
		a.Name, a.Description, string(a.GroupType), a.MaxMembers,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account number %s", store.ErrDuplicate, a.Number)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	a.ID = id
	return nil
}

// updateAccount writes every mutable column of a.
func (s *Store) updateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.exec(ctx, `
		UPDATE accounts SET status = ?, balance = ?, overdraft_limit = ?, minimum_balance = ?,
			interest_rate = ?, group_id = ?, monthly_withdrawal_limit = ?,
			withdrawals_this_month = ?, withdrawal_period = ?, name = ?, description = ?,
			group_type = ?, max_members = ?
		WHERE id = ?`,
		string(a.Status), a.Balance, a.OverdraftLimit, a.MinimumBalance,
		a.InterestRate, nullGroupID(a), a.MonthlyWithdrawalLimit,
		a.WithdrawalsThisMonth, a.WithdrawalPeriod, a.Name, a.Description,
		string(a.GroupType), a.MaxMembers,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", a.Number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: account %d", store.ErrNotFound, a.ID)
	}
	return nil
}

// SaveAccounts implements store.AccountRepository.
func (s *Store) SaveAccounts(ctx context.Context, accounts ...*account.Account) error {
	return s.ExecTx(ctx, func(q *Store) error {
		for _, a := range accounts {
			if a == nil {
				continue
			}
			if err := q.updateAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveUser inserts or replaces a user directory entry.
func (s *Store) SaveUser(ctx context.Context, u store.User) error {
	_, err := s.exec(ctx, `
		INSERT INTO users (id, username, roles) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, roles = excluded.roles`,
		u.ID, u.Username, strings.Join(u.Roles, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return nil
}

// FindUser implements store.UserDirectory.
func (s *Store) FindUser(ctx context.Context, id int64) (store.User, error) {
	u := store.User{ID: id}
	var roles string
	err := s.queryRow(ctx, "SELECT username, roles FROM users WHERE id = ?", id).Scan(&u.Username, &roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
		}
		return store.User{}, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			u.Roles = append(u.Roles, r)
		}
	}
	return u, nil
}

func sumAmounts(rows *sql.Rows) (decimal.Decimal, error) {
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
