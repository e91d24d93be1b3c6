package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/banking"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/transaction"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type transferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type withdrawalRequest struct {
	FromAccount string          `json:"from_account"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type depositRequest struct {
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type paymentRequest struct {
	FromAccount    string          `json:"from_account"`
	PayeeReference string          `json:"payee_reference"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
}

type decisionRequest struct {
	ManagerID int64  `json:"manager_id"`
	Reason    string `json:"reason"`
	Comments  string `json:"comments"`
}

type cancelRequest struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

type auditResponse struct {
	Handler string    `json:"handler"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type transactionResponse struct {
	ID             int64              `json:"id"`
	Reference      string             `json:"reference"`
	Type           transaction.Type   `json:"type"`
	Amount         decimal.Decimal    `json:"amount"`
	FromAccount    string             `json:"from_account,omitempty"`
	ToAccount      string             `json:"to_account,omitempty"`
	PayeeReference string             `json:"payee_reference,omitempty"`
	Description    string             `json:"description,omitempty"`
	Status         transaction.Status `json:"status"`
	FailureReason  string             `json:"failure_reason,omitempty"`
	FailureCode    string             `json:"failure_code,omitempty"`
	InitiatedBy    int64              `json:"initiated_by"`
	ApprovedBy     *int64             `json:"approved_by,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ProcessedAt    *time.Time         `json:"processed_at,omitempty"`
	Audit          []auditResponse    `json:"audit"`
}

func newTransactionResponse(tx *transaction.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:             tx.ID,
		Reference:      tx.Reference,
		Type:           tx.Type,
		Amount:         tx.Amount,
		PayeeReference: tx.PayeeReference,
		Description:    tx.Description,
		Status:         tx.Status,
		FailureReason:  tx.FailureReason,
		InitiatedBy:    tx.InitiatedBy,
		ApprovedBy:     tx.ApprovedBy,
		CreatedAt:      tx.CreatedAt,
		ProcessedAt:    tx.ProcessedAt,
		Audit:          []auditResponse{},
	}
	if cause := pipeline.Cause(tx); cause != nil {
		resp.FailureCode = banking.ClassifyError(cause)
	}
	if tx.From != nil {
		resp.FromAccount = tx.From.Number
	}
	if tx.To != nil {
		resp.ToAccount = tx.To.Number
	}
	for _, e := range tx.Audit() {
		resp.Audit = append(resp.Audit, auditResponse{Handler: e.Handler, Message: e.Message, At: e.At})
	}
	return resp
}

func newTransactionList(txs []*transaction.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionResponse(tx))
	}
	return out
}

type accountResponse struct {
	ID                   int64             `json:"id"`
	Number               string            `json:"number"`
	Kind                 account.Kind      `json:"kind"`
	Status               account.Status    `json:"status"`
	OwnerID              int64             `json:"owner_id"`
	Balance              decimal.Decimal   `json:"balance"`
	AvailableBalance     decimal.Decimal   `json:"available_balance"`
	GroupID              *int64            `json:"group_id,omitempty"`
	Name                 string            `json:"name,omitempty"`
	GroupType            account.GroupType `json:"group_type,omitempty"`
	MaxMembers           int               `json:"max_members,omitempty"`
	Members              []string          `json:"members,omitempty"`
	WithdrawalsThisMonth int               `json:"withdrawals_this_month,omitempty"`
	MinimumBalance       *decimal.Decimal  `json:"minimum_balance,omitempty"`
	BelowMinimum         bool              `json:"below_minimum,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

func newAccountResponse(a *account.Account) accountResponse {
	resp := accountResponse{
		ID:                   a.ID,
		Number:               a.Number,
		Kind:                 a.Kind,
		Status:               a.Status,
		OwnerID:              a.OwnerID,
		Balance:              a.TotalBalance(),
		AvailableBalance:     a.AvailableBalance(),
		GroupID:              a.GroupID,
		Name:                 a.Name,
		GroupType:            a.GroupType,
		MaxMembers:           a.MaxMembers,
		WithdrawalsThisMonth: a.WithdrawalsThisMonth,
		BelowMinimum:         a.BelowMinimum(),
		CreatedAt:            a.CreatedAt,
	}
	if a.MinimumBalance.Valid {
		minimum := a.MinimumBalance.Decimal
		resp.MinimumBalance = &minimum
	}
	for _, m := range a.Members() {
		resp.Members = append(resp.Members, m.Number)
	}
	return resp
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body: " + err.Error(),
			"code":  "bad_request",
		})
		return false
	}
	return true
}

func (s *Server) created(w http.ResponseWriter, tx *transaction.Transaction, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.CreateTransfer(ctx, req.FromAccount, req.ToAccount, req.Amount, req.Description)
	s.created(w, tx, err)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.CreateWithdrawal(ctx, req.FromAccount, req.Amount, req.Description)
	s.created(w, tx, err)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.CreateDeposit(ctx, req.ToAccount, req.Amount, req.Description)
	s.created(w, tx, err)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.CreatePayment(ctx, req.FromAccount, req.PayeeReference, req.Amount, req.Description)
	s.created(w, tx, err)
}

func transactionID(r *http.Request) int64 {
	// The route only matches digits.
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.Get(ctx, transactionID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleGetByReference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.GetByReference(ctx, mux.Vars(r)["reference"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.Approve(ctx, transactionID(r), req.ManagerID, req.Comments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.Reject(ctx, transactionID(r), req.ManagerID, req.Reason, req.Comments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.services.Transactions.Cancel(ctx, transactionID(r), req.UserID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	txs, err := s.services.Transactions.PendingApprovals(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionList(txs))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	// A sweep is not bounded by the request timeout.
	report, err := s.services.Transactions.ProcessPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	errs := []string{}
	for _, e := range multierr.Errors(report.Err) {
		errs = append(errs, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed":     report.Processed,
		"completed":     report.Completed,
		"failed":        report.Failed,
		"still_pending": report.StillPending,
		"errors":        errs,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	a, err := s.services.Accounts.Find(ctx, mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(a))
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "limit must be a positive integer",
				"code":  "bad_request",
			})
			return
		}
		limit = n
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	a, err := s.services.Accounts.Find(ctx, mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	txs, err := s.services.Transactions.RecentForAccount(ctx, a.ID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionList(txs))
}

func (s *Server) handleAccountStatistics(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "since must be an RFC 3339 timestamp",
				"code":  "bad_request",
			})
			return
		}
		since = t
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	a, err := s.services.Accounts.Find(ctx, mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.services.Transactions.Statistics(ctx, a.ID, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	monthly, err := s.services.Transactions.MonthlyTotals(ctx, a.ID, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":             a.Number,
		"since":               since,
		"total_deposits":      stats.TotalDeposits,
		"total_withdrawals":   stats.TotalWithdrawals,
		"net_flow":            stats.NetFlow,
		"recent_count":        stats.RecentCount,
		"monthly_deposits":    monthly.Deposits,
		"monthly_withdrawals": monthly.Withdrawals,
	})
}

func (s *Server) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	stats, err := s.services.Groups.Stats(ctx, mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"members": stats.Members,
		"active":  stats.Active,
		"frozen":  stats.Frozen,
		"total":   stats.Total,
		"average": stats.Average,
	}
	if stats.Largest != nil {
		resp["largest"] = stats.Largest.Number
	}
	if stats.Smallest != nil {
		resp["smallest"] = stats.Smallest.Number
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch banking.ClassifyError(err) {
	case "not_found":
		return http.StatusNotFound
	case "security_violation":
		return http.StatusForbidden
	case "invalid_state", "invalid_state_transition", "already_grouped", "duplicate":
		return http.StatusConflict
	case "invalid_amount", "self_transfer", "unsupported_operation", "capacity_exceeded",
		"member_not_found", "null_child", "insufficient_funds", "monthly_limit_exceeded":
		return http.StatusUnprocessableEntity
	case "lock_timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  banking.ClassifyError(err),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
