package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"approval-chain/pkg/account"
	"approval-chain/pkg/banking"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/pipeline"
	"approval-chain/pkg/store"
	"approval-chain/pkg/store/memory"
	"approval-chain/pkg/transaction"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	managerID  int64 = 100
	customerID int64 = 1
)

type testEnv struct {
	server   *Server
	store    *memory.Store
	services Services
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st := memory.New()
	st.AddUser(store.User{ID: managerID, Username: "manager", Roles: []string{store.RoleManager}})
	st.AddUser(store.User{ID: customerID, Username: "customer", Roles: []string{"CUSTOMER"}})

	noop := logging.NewNoOpLogger()
	asm, err := pipeline.NewAssembler(pipeline.DefaultConfig(), st, pipeline.WithLogger(noop))
	if err != nil {
		t.Fatalf("Failed to build pipeline: %v", err)
	}

	shared := []banking.Option{banking.WithLogger(noop)}
	services := Services{
		Transactions: banking.NewTransactionService(st, asm.Approval(), shared...),
		Groups:       banking.NewGroupService(st, shared...),
		Accounts:     banking.NewAccountService(st, shared...),
	}

	opts = append([]Option{WithLogger(noop)}, opts...)
	server := NewServer(services, DefaultServerConfig(), opts...)
	return &testEnv{server: server, store: st, services: services}
}

func (e *testEnv) open(t *testing.T, kind account.Kind, balance int64) *account.Account {
	t.Helper()
	a, err := e.services.Accounts.Open(context.Background(), kind, customerID, decimal.NewFromInt(balance))
	if err != nil {
		t.Fatalf("Failed to open account: %v", err)
	}
	return a
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeTx(t *testing.T, w *httptest.ResponseRecorder) transactionResponse {
	t.Helper()
	var resp transactionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode transaction: %v", err)
	}
	return resp
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if resp := decodeMap(t, w); resp["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", resp["status"])
	}

	w = env.do(t, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_Transfer(t *testing.T) {
	env := setupTestServer(t)
	from := env.open(t, account.KindChecking, 1000)
	to := env.open(t, account.KindSavings, 0)

	w := env.do(t, http.MethodPost, "/transactions/transfer", map[string]interface{}{
		"from_account": from.Number,
		"to_account":   to.Number,
		"amount":       "250.50",
		"description":  "groceries",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	created := decodeTx(t, w)
	if created.Status != transaction.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s (%s)", created.Status, created.FailureReason)
	}
	if !created.Amount.Equal(decimal.RequireFromString("250.50")) {
		t.Errorf("Expected amount 250.50, got %s", created.Amount)
	}
	if created.FromAccount != from.Number || created.ToAccount != to.Number {
		t.Errorf("Unexpected accounts %s -> %s", created.FromAccount, created.ToAccount)
	}
	if len(created.Audit) != 5 {
		t.Errorf("Expected 5 audit entries, got %d", len(created.Audit))
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/transactions/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := decodeTx(t, w); got.Reference != created.Reference {
		t.Errorf("Expected reference %s, got %s", created.Reference, got.Reference)
	}

	w = env.do(t, http.MethodGet, "/transactions/reference/"+created.Reference, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/accounts/"+from.Number, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var acc accountResponse
	json.NewDecoder(w.Body).Decode(&acc)
	if !acc.Balance.Equal(decimal.RequireFromString("749.50")) {
		t.Errorf("Expected balance 749.50, got %s", acc.Balance)
	}
}

func TestServer_CreateErrors(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 100)

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{
			"malformed body",
			"/transactions/deposit",
			"{not json",
			http.StatusBadRequest,
			"bad_request",
		},
		{
			"self transfer",
			"/transactions/transfer",
			map[string]interface{}{"from_account": chk.Number, "to_account": chk.Number, "amount": "10"},
			http.StatusUnprocessableEntity,
			"self_transfer",
		},
		{
			"zero amount",
			"/transactions/withdrawal",
			map[string]interface{}{"from_account": chk.Number, "amount": "0"},
			http.StatusUnprocessableEntity,
			"invalid_amount",
		},
		{
			"unknown account",
			"/transactions/payment",
			map[string]interface{}{"from_account": "CHK-NONE", "payee_reference": "P1", "amount": "10"},
			http.StatusNotFound,
			"not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if resp := decodeMap(t, w); resp["code"] != tt.wantErr {
				t.Errorf("Expected code %s, got %v", tt.wantErr, resp["code"])
			}
		})
	}

	w := env.do(t, http.MethodGet, "/transactions/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_FailedTransactionIsCreated(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 100)

	w := env.do(t, http.MethodPost, "/transactions/withdrawal", map[string]interface{}{
		"from_account": chk.Number,
		"amount":       "500",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	tx := decodeTx(t, w)
	if tx.Status != transaction.StatusFailed || tx.FailureReason != pipeline.ReasonInsufficientFunds {
		t.Errorf("Expected FAILED insufficient funds, got %s %q", tx.Status, tx.FailureReason)
	}
	if tx.FailureCode != "insufficient_funds" {
		t.Errorf("Expected failure code insufficient_funds, got %q", tx.FailureCode)
	}
}

func TestServer_FailureCodeOnlyOnPipelineFailures(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 1000)

	w := env.do(t, http.MethodPost, "/transactions/withdrawal", map[string]interface{}{
		"from_account": chk.Number,
		"amount":       "50",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	tx := decodeTx(t, w)
	if tx.Status != transaction.StatusCompleted {
		t.Fatalf("Expected COMPLETED, got %s", tx.Status)
	}
	if tx.FailureCode != "" {
		t.Errorf("Expected no failure code, got %q", tx.FailureCode)
	}
}

func TestServer_ManagerApproval(t *testing.T) {
	env := setupTestServer(t)
	from := env.open(t, account.KindBusiness, 50000)
	to := env.open(t, account.KindChecking, 0)

	w := env.do(t, http.MethodPost, "/transactions/transfer", map[string]interface{}{
		"from_account": from.Number,
		"to_account":   to.Number,
		"amount":       12000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	flagged := decodeTx(t, w)
	if flagged.Status != transaction.StatusPendingApproval {
		t.Fatalf("Expected PENDING_APPROVAL, got %s", flagged.Status)
	}

	w = env.do(t, http.MethodGet, "/transactions/pending-approval", nil)
	var pending []transactionResponse
	json.NewDecoder(w.Body).Decode(&pending)
	if len(pending) != 1 || pending[0].ID != flagged.ID {
		t.Fatalf("Expected the flagged transaction to be pending, got %+v", pending)
	}

	approve := fmt.Sprintf("/transactions/%d/approve", flagged.ID)

	w = env.do(t, http.MethodPost, approve, map[string]interface{}{"manager_id": customerID})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for non-manager, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, approve, map[string]interface{}{"manager_id": managerID, "comments": "ok"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	approved := decodeTx(t, w)
	if approved.Status != transaction.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", approved.Status)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != managerID {
		t.Errorf("Expected approver %d, got %v", managerID, approved.ApprovedBy)
	}

	w = env.do(t, http.MethodPost, approve, map[string]interface{}{"manager_id": managerID})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for decided transaction, got %d", w.Code)
	}
}

func TestServer_RejectAndCancel(t *testing.T) {
	env := setupTestServer(t)
	from := env.open(t, account.KindBusiness, 50000)
	to := env.open(t, account.KindChecking, 0)

	var ids []int64
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/transactions/transfer", map[string]interface{}{
			"from_account": from.Number,
			"to_account":   to.Number,
			"amount":       "15000",
		})
		ids = append(ids, decodeTx(t, w).ID)
	}

	w := env.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/reject", ids[0]),
		map[string]interface{}{"manager_id": managerID, "reason": "limits"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if tx := decodeTx(t, w); tx.FailureReason != "Rejected by manager: limits" {
		t.Errorf("Unexpected failure reason %q", tx.FailureReason)
	}

	cancel := fmt.Sprintf("/transactions/%d/cancel", ids[1])
	w = env.do(t, http.MethodPost, cancel, map[string]interface{}{"user_id": 42, "reason": "x"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, cancel, map[string]interface{}{"user_id": customerID, "reason": "changed mind"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if tx := decodeTx(t, w); tx.Status != transaction.StatusCancelled {
		t.Errorf("Expected CANCELLED, got %s", tx.Status)
	}
}

func TestServer_Sweep(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 10)

	tx := transaction.New(transaction.TypeDeposit, decimal.NewFromInt(40), nil, chk, customerID)
	if err := env.store.Commit(context.Background(), tx); err != nil {
		t.Fatalf("Failed to store pending transaction: %v", err)
	}

	w := env.do(t, http.MethodPost, "/transactions/sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeMap(t, w)
	if resp["processed"] != float64(1) || resp["completed"] != float64(1) {
		t.Errorf("Unexpected sweep report %v", resp)
	}

	w = env.do(t, http.MethodGet, "/accounts/"+chk.Number+"/transactions?limit=5", nil)
	var txs []transactionResponse
	json.NewDecoder(w.Body).Decode(&txs)
	if len(txs) != 1 || txs[0].Status != transaction.StatusCompleted {
		t.Errorf("Expected one completed transaction, got %+v", txs)
	}

	w = env.do(t, http.MethodGet, "/accounts/"+chk.Number+"/transactions?limit=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestServer_AccountStatistics(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 100)

	env.do(t, http.MethodPost, "/transactions/deposit", map[string]interface{}{"to_account": chk.Number, "amount": "30"})
	env.do(t, http.MethodPost, "/transactions/withdrawal", map[string]interface{}{"from_account": chk.Number, "amount": "10"})

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w := env.do(t, http.MethodGet, "/accounts/"+chk.Number+"/statistics?since="+since, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeMap(t, w)
	if resp["net_flow"] != "20" {
		t.Errorf("Expected net flow 20, got %v", resp["net_flow"])
	}

	w = env.do(t, http.MethodGet, "/accounts/"+chk.Number+"/statistics?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestServer_AccountMinimumBalance(t *testing.T) {
	env := setupTestServer(t)
	chk := env.open(t, account.KindChecking, 40)

	if _, err := env.services.Accounts.SetMinimumBalance(context.Background(), chk.Number, decimal.NewNullDecimal(decimal.NewFromInt(50))); err != nil {
		t.Fatalf("Failed to set minimum balance: %v", err)
	}

	w := env.do(t, http.MethodGet, "/accounts/"+chk.Number, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeMap(t, w)
	if resp["minimum_balance"] != "50" {
		t.Errorf("Expected minimum_balance 50, got %v", resp["minimum_balance"])
	}
	if resp["below_minimum"] != true {
		t.Errorf("Expected below_minimum true, got %v", resp["below_minimum"])
	}
}

func TestServer_GroupStats(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	g, err := env.services.Groups.CreateGroup(ctx, "Family", account.GroupFamily, customerID, 0)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	a := env.open(t, account.KindChecking, 300)
	b := env.open(t, account.KindSavings, 100)
	for _, m := range []*account.Account{a, b} {
		if err := env.services.Groups.AddMember(ctx, g.Number, m.Number); err != nil {
			t.Fatalf("Failed to add member: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/groups/"+g.Number+"/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeMap(t, w)
	if resp["members"] != float64(2) || resp["total"] != "400" || resp["largest"] != a.Number {
		t.Errorf("Unexpected group stats %v", resp)
	}

	w = env.do(t, http.MethodGet, "/groups/"+a.Number+"/stats", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for a leaf account, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/accounts/"+g.Number, nil)
	var acc accountResponse
	json.NewDecoder(w.Body).Decode(&acc)
	if len(acc.Members) != 2 || !acc.Balance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("Unexpected group account %+v", acc)
	}
}

func TestServer_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	httpMetrics := NewHTTPMetrics("test")
	if err := httpMetrics.Register(registry); err != nil {
		t.Fatalf("Failed to register metrics: %v", err)
	}

	env := setupTestServer(t,
		WithHTTPMetrics(httpMetrics),
		WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	env.do(t, http.MethodGet, "/health", nil)
	env.do(t, http.MethodGet, "/accounts/CHK-NONE", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`test_http_requests_total{endpoint="/health",method="GET",status="200"} 1`,
		`test_http_requests_total{endpoint="/accounts/{number}",method="GET",status="404"} 1`,
		"test_http_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ServerConfig)
		wantErr bool
	}{
		{"default", func(c *ServerConfig) {}, false},
		{"empty address", func(c *ServerConfig) { c.Address = "" }, true},
		{"negative read timeout", func(c *ServerConfig) { c.ReadTimeout = -time.Second }, true},
		{"zero request timeout", func(c *ServerConfig) { c.RequestTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultServerConfig()
			tt.modify(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	env := setupTestServer(t)
	env.server.config.Address = "127.0.0.1:0"

	if env.server.Addr() != nil {
		t.Error("Expected no address before Start")
	}
	if err := env.server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + env.server.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.server.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestServer_StartReportsBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	defer taken.Close()

	env := setupTestServer(t)
	env.server.config.Address = taken.Addr().String()

	err = env.server.Start()
	if err == nil {
		env.server.Stop(context.Background())
		t.Fatal("Expected Start to fail on a taken address")
	}
	if !strings.Contains(err.Error(), "listen on") {
		t.Errorf("Expected a listen error, got %v", err)
	}
}
