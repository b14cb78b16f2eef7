package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/commission"
	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/ledger"
	"github.com/example/clinic-finance/internal/refdata"
	"github.com/example/clinic-finance/internal/security"
	"github.com/example/clinic-finance/internal/settings"
	"github.com/example/clinic-finance/pkg/audit"
)

type fakeAccounts struct {
	createCalls int
	deleteCalls int
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, a *ledger.Account) (*ledger.Account, error) {
	f.createCalls++
	out := *a
	out.ID = 1
	out.Status = ledger.StatusActive
	return &out, nil
}

func (f *fakeAccounts) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	if id == 404 {
		return nil, fault.New(fault.NotFound, "account %d not found", id)
	}
	return &ledger.Account{ID: id, Code: "ACC-1", Name: "Dr. Demir", Status: ledger.StatusActive}, nil
}

func (f *fakeAccounts) UpdateAccount(ctx context.Context, a *ledger.Account) error { return nil }

func (f *fakeAccounts) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error) {
	return []*ledger.Account{{ID: 1, Code: "ACC-1", Name: "Dr. Demir"}}, nil
}

func (f *fakeAccounts) AccountKinds(ctx context.Context) ([]string, []string, error) {
	return []string{"doctor"}, []string{"surgeon"}, nil
}

func (f *fakeAccounts) DeleteAccount(ctx context.Context, id int64) error {
	f.deleteCalls++
	return nil
}

func (f *fakeAccounts) DeactivateAccount(ctx context.Context, id int64) error { return nil }

func (f *fakeAccounts) BindDoctor(ctx context.Context, b *ledger.Binding) (*ledger.Binding, error) {
	out := *b
	out.ID = 7
	out.Status = ledger.StatusActive
	return &out, nil
}

func (f *fakeAccounts) ListBindings(ctx context.Context, accountID int64) ([]*ledger.Binding, error) {
	return nil, nil
}

func (f *fakeAccounts) DeactivateBinding(ctx context.Context, id int64) error { return nil }

func (f *fakeAccounts) ListEntries(ctx context.Context, accountID int64) ([]*ledger.Entry, error) {
	return []*ledger.Entry{{ID: 1, AccountID: accountID, Credit: 100, Balance: 100}}, nil
}

type fakeEngine struct {
	appendCalls int
}

func (f *fakeEngine) Append(ctx context.Context, in *ledger.Entry) (*ledger.Entry, error) {
	f.appendCalls++
	out := *in
	out.ID = 11
	out.Balance = in.Credit - in.Debit
	return &out, nil
}

func (f *fakeEngine) Edit(ctx context.Context, accountID, entryID int64, upd *ledger.Entry) (*ledger.Entry, error) {
	out := *upd
	out.ID = entryID + 1
	out.AccountID = accountID
	return &out, nil
}

func (f *fakeEngine) Delete(ctx context.Context, accountID, entryID int64) error { return nil }
func (f *fakeEngine) Recompute(ctx context.Context, accountID int64) error       { return nil }

type fakeChecker struct{}

func (f *fakeChecker) ComprehensiveValidation(ctx context.Context, accountID int64) []*ledger.ValidationResult {
	return []*ledger.ValidationResult{{IsValid: true, ValidationType: "cached_balance", AccountID: accountID}}
}

type fakeCommissions struct {
	saveCalls   int
	deleteCalls int
}

func (f *fakeCommissions) Preview(ctx context.Context, in *commission.SaveInput) (*commission.Record, error) {
	return &commission.Record{DoctorID: in.DoctorID, DoctorName: in.DoctorName}, nil
}

func (f *fakeCommissions) Save(ctx context.Context, in *commission.SaveInput) (*commission.SaveResult, error) {
	f.saveCalls++
	return &commission.SaveResult{Record: &commission.Record{ID: 5, DoctorID: in.DoctorID}}, nil
}

func (f *fakeCommissions) Get(ctx context.Context, id int64) (*commission.Record, error) {
	if id == 404 {
		return nil, fault.New(fault.NotFound, "commission record %d not found", id)
	}
	return &commission.Record{ID: id, DoctorID: "doc-1"}, nil
}

func (f *fakeCommissions) List(ctx context.Context, filter commission.Filter) ([]*commission.Record, error) {
	return []*commission.Record{{ID: 5, DoctorID: "doc-1"}}, nil
}

func (f *fakeCommissions) Delete(ctx context.Context, id int64) error {
	f.deleteCalls++
	return nil
}

func (f *fakeCommissions) FindOverlaps(ctx context.Context, doctorID, start, end string, excludeID int64) ([]commission.Overlap, error) {
	return nil, nil
}

type fakeSettings struct{}

func (f *fakeSettings) ListInstallmentRates(ctx context.Context) ([]settings.InstallmentRate, error) {
	return []settings.InstallmentRate{{Installments: 2, Rate: 5}}, nil
}

func (f *fakeSettings) ReplaceInstallmentRates(ctx context.Context, rates []settings.InstallmentRate) error {
	return nil
}

func (f *fakeSettings) ListExpenseCategories(ctx context.Context) ([]settings.ExpenseCategory, error) {
	return []settings.ExpenseCategory{{ID: 1, Name: "lab"}}, nil
}

func (f *fakeSettings) AddExpenseCategory(ctx context.Context, name string) (*settings.ExpenseCategory, error) {
	return &settings.ExpenseCategory{ID: 2, Name: name}, nil
}

func (f *fakeSettings) RemoveExpenseCategory(ctx context.Context, id int64) error { return nil }

type fakeUsers struct{}

func (f *fakeUsers) Authenticate(ctx context.Context, username, password string) (*auth.User, error) {
	if password != "correct horse battery" {
		return nil, auth.ErrBadCredentials
	}
	role := auth.RoleStaff
	if username == "boss" {
		role = auth.RoleAdmin
	}
	return &auth.User{ID: 1, Username: username, Role: role, Status: "active"}, nil
}

func (f *fakeUsers) CreateUser(ctx context.Context, username, password, displayName, role string) (*auth.User, error) {
	return &auth.User{ID: 2, Username: username, DisplayName: displayName, Role: role}, nil
}

func (f *fakeUsers) ListUsers(ctx context.Context) ([]*auth.User, error) {
	return []*auth.User{{ID: 1, Username: "boss", Role: auth.RoleAdmin}}, nil
}

func (f *fakeUsers) DeactivateUser(ctx context.Context, id int64) error { return nil }

type fakeFeed struct{}

func (f *fakeFeed) Doctors(ctx context.Context) ([]refdata.Doctor, error) {
	return []refdata.Doctor{{ID: "doc-1", Name: "Dr. Demir", BranchID: "br-1"}}, nil
}

func (f *fakeFeed) Branches(ctx context.Context) ([]refdata.Branch, error) {
	return []refdata.Branch{{ID: "br-1", Name: "Central"}}, nil
}

func (f *fakeFeed) Collections(ctx context.Context, doctorID, start, end string) ([]refdata.RawCollection, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (http.Handler, Dependencies) {
	t.Helper()

	deps := Dependencies{
		Tokens: &auth.TokenIssuer{
			Secret: []byte("router-test-secret"),
			Issuer: "clinic-finance-test",
			TTL:    time.Minute,
		},
		Users:       &fakeUsers{},
		Accounts:    &fakeAccounts{},
		Ledger:      &fakeEngine{},
		Checker:     &fakeChecker{},
		Commissions: &fakeCommissions{},
		Settings:    &fakeSettings{},
		Feed:        &fakeFeed{},
		Audit:       audit.NewTrail(100),
		Recorder:    audit.NewTrail(100),
	}
	return NewRouter(deps), deps
}

func bearerToken(t *testing.T, deps Dependencies, username, role string) string {
	t.Helper()
	token, err := deps.Tokens.Issue(&auth.User{ID: 1, Username: username, Role: role})
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticatedRejected(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/accounts", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/accounts", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/login", "", map[string]any{
		"username": "boss", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, auth.RoleAdmin, resp.User.Role)

	rec = doJSON(t, h, http.MethodPost, "/login", "", map[string]any{
		"username": "boss", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/login", "", map[string]any{"username": "boss"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationRunsBeforeStore(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	// missing name
	rec := doJSON(t, h, http.MethodPost, "/v1/accounts", token, map[string]any{"code": "ACC-9"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fa := deps.Accounts.(*fakeAccounts)
	require.Equal(t, 0, fa.createCalls)

	rec = doJSON(t, h, http.MethodPost, "/v1/accounts", token, map[string]any{
		"code": "ACC-9", "name": "Dr. Demir",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, fa.createCalls)
	require.NotEmpty(t, rec.Header().Get(security.CorrelationIDHeader))
}

func TestUnknownFieldsRejected(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	rec := doJSON(t, h, http.MethodPost, "/v1/accounts", token, map[string]any{
		"code": "ACC-9", "name": "Dr. Demir", "surprise": true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	h, deps := newTestRouter(t)
	staff := bearerToken(t, deps, "clerk", auth.RoleStaff)
	admin := bearerToken(t, deps, "boss", auth.RoleAdmin)

	rec := doJSON(t, h, http.MethodDelete, "/v1/accounts/1", staff, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/accounts/1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/users", staff, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/audit", staff, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFaultKindsMapToStatus(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	rec := doJSON(t, h, http.MethodGet, "/v1/accounts/404", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp security.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(fault.NotFound), resp.Kind)

	rec = doJSON(t, h, http.MethodGet, "/v1/accounts/abc", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntryFlow(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	rec := doJSON(t, h, http.MethodPost, "/v1/accounts/1/entries", token, map[string]any{
		"date": "2025-03-05", "description": "cash in", "credit": 250,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp entryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 250.0, resp.Entry.Credit)
	// created_by falls back to the session user
	require.Equal(t, "clerk", resp.Entry.CreatedBy)

	rec = doJSON(t, h, http.MethodPost, "/v1/accounts/1/entries", token, map[string]any{
		"date": "05.03.2025", "credit": 250,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/accounts/1/entries", token, map[string]any{
		"date": "2025-03-05", "credit": -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/accounts/1/entries", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/accounts/1/recompute", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/accounts/1/validate", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var vr validateAccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vr))
	require.True(t, vr.Valid)
}

func TestCommissionRoutes(t *testing.T) {
	h, deps := newTestRouter(t)
	staff := bearerToken(t, deps, "clerk", auth.RoleStaff)
	admin := bearerToken(t, deps, "boss", auth.RoleAdmin)

	in := map[string]any{
		"doctor_id": "doc-1", "doctor_name": "Dr. Demir",
		"period_start": "2025-03-01", "period_end": "2025-03-31",
		"commission_rate": 20,
		"collections": []map[string]any{
			{"gross_amount": 1000, "payment_method": "cash", "date": "2025-03-05"},
		},
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/commissions/preview", staff, in)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/commissions", staff, in)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/commissions/5", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/commissions?doctor_id=doc-1", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/commissions/5", staff, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/commissions/5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	fc := deps.Commissions.(*fakeCommissions)
	require.Equal(t, 1, fc.saveCalls)
	require.Equal(t, 1, fc.deleteCalls)
}

func TestMethodDefaultsEndpoint(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	rec := doJSON(t, h, http.MethodGet, "/v1/refdata/methods/pos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp methodDefaultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "card", resp.Method)
	require.True(t, resp.Profile.AutoVAT)
}

func TestAuditTrailCapturesMutations(t *testing.T) {
	h, deps := newTestRouter(t)
	token := bearerToken(t, deps, "clerk", auth.RoleStaff)

	rec := doJSON(t, h, http.MethodPost, "/v1/accounts", token, map[string]any{
		"code": "ACC-9", "name": "Dr. Demir",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	trail := deps.Recorder.(*audit.Trail)
	entries := trail.Entries()
	require.Len(t, entries, 1)
	require.True(t, trail.Verify())

	// reads are not recorded
	rec = doJSON(t, h, http.MethodGet, "/v1/accounts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, trail.Entries(), 1)
}

func TestSettingsRoutes(t *testing.T) {
	h, deps := newTestRouter(t)
	staff := bearerToken(t, deps, "clerk", auth.RoleStaff)
	admin := bearerToken(t, deps, "boss", auth.RoleAdmin)

	rec := doJSON(t, h, http.MethodGet, "/v1/settings/installment-rates", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := map[string]any{"rates": []map[string]any{{"installments": 2, "rate": 5}}}
	rec = doJSON(t, h, http.MethodPut, "/v1/settings/installment-rates", staff, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/v1/settings/installment-rates", admin, body)
	require.Equal(t, http.StatusOK, rec.Code)

	bad := map[string]any{"rates": []map[string]any{{"installments": 1, "rate": 5}}}
	rec = doJSON(t, h, http.MethodPut, "/v1/settings/installment-rates", admin, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
