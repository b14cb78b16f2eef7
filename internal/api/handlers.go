package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/commission"
	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/ledger"
	"github.com/example/clinic-finance/internal/security"
)

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.Validation, "invalid %s %q", name, raw)
	}
	return id, nil
}

// callerUsername fills created_by fields when the request omits them.
func callerUsername(r *http.Request) string {
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		return s.Username
	}
	return ""
}

type actionResponse struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Status        string `json:"status"`
}

func writeAction(w http.ResponseWriter, r *http.Request, status string) {
	writeJSON(w, r, http.StatusOK, actionResponse{
		CorrelationID: security.CorrelationIDFromContext(r.Context()),
		Success:       true,
		Status:        status,
	})
}

type loginResponse struct {
	CorrelationID string     `json:"correlation_id"`
	Token         string     `json:"token"`
	User          *auth.User `json:"user"`
}

func handleLogin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		user, err := deps.Users.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				security.WriteJSONError(w, r, http.StatusUnauthorized, "invalid credentials")
				return
			}
			security.WriteFault(w, r, err)
			return
		}

		token, err := deps.Tokens.Issue(user)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, loginResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Token:         token,
			User:          user,
		})
	}
}

type listAccountsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Accounts      []*ledger.Account `json:"accounts"`
	Total         int               `json:"total"`
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ledger.AccountFilter{
			Kind:    r.URL.Query().Get("kind"),
			Subkind: r.URL.Query().Get("subkind"),
			Status:  r.URL.Query().Get("status"),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				filter.Limit = i
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				filter.Offset = i
			}
		}

		accounts, err := deps.Accounts.ListAccounts(r.Context(), filter)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, listAccountsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Accounts:      accounts,
			Total:         len(accounts),
		})
	}
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accountRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		account, err := deps.Accounts.CreateAccount(r.Context(), &ledger.Account{
			Code:    req.Code,
			Name:    req.Name,
			Phone:   req.Phone,
			Email:   req.Email,
			Address: req.Address,
			Notes:   req.Notes,
			Kind:    req.Kind,
			Subkind: req.Subkind,
		})
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		account, err := deps.Accounts.GetAccount(r.Context(), id)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleUpdateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		var req accountRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		if err := deps.Accounts.UpdateAccount(r.Context(), &ledger.Account{
			ID:      id,
			Code:    req.Code,
			Name:    req.Name,
			Phone:   req.Phone,
			Email:   req.Email,
			Address: req.Address,
			Notes:   req.Notes,
			Kind:    req.Kind,
			Subkind: req.Subkind,
		}); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		account, err := deps.Accounts.GetAccount(r.Context(), id)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleDeleteAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Accounts.DeleteAccount(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "deleted")
	}
}

func handleDeactivateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Accounts.DeactivateAccount(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, ledger.StatusInactive)
	}
}

type accountKindsResponse struct {
	CorrelationID string   `json:"correlation_id"`
	Kinds         []string `json:"kinds"`
	Subkinds      []string `json:"subkinds"`
}

func handleAccountKinds(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kinds, subkinds, err := deps.Accounts.AccountKinds(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, accountKindsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Kinds:         kinds,
			Subkinds:      subkinds,
		})
	}
}

type bindingResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Binding       *ledger.Binding `json:"binding"`
}

type listBindingsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Bindings      []*ledger.Binding `json:"bindings"`
}

func handleBindDoctor(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		var req bindDoctorRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		binding, err := deps.Accounts.BindDoctor(r.Context(), &ledger.Binding{
			AccountID:  id,
			DoctorID:   req.DoctorID,
			DoctorName: req.DoctorName,
			BranchID:   req.BranchID,
			BranchName: req.BranchName,
		})
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, bindingResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Binding:       binding,
		})
	}
}

func handleListBindings(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		bindings, err := deps.Accounts.ListBindings(r.Context(), id)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, listBindingsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Bindings:      bindings,
		})
	}
}

func handleDeactivateBinding(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "bindingID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Accounts.DeactivateBinding(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, ledger.StatusInactive)
	}
}

type listEntriesResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Entries       []*ledger.Entry `json:"entries"`
	Total         int             `json:"total"`
}

type entryResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Entry         *ledger.Entry `json:"entry"`
}

func handleListEntries(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		entries, err := deps.Accounts.ListEntries(r.Context(), id)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, listEntriesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entries:       entries,
			Total:         len(entries),
		})
	}
}

func handleAppendEntry(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		var req entryRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if req.CreatedBy == "" {
			req.CreatedBy = callerUsername(r)
		}

		entry, err := deps.Ledger.Append(r.Context(), &ledger.Entry{
			AccountID:   id,
			Date:        req.Date,
			Description: req.Description,
			Credit:      req.Credit,
			Debit:       req.Debit,
			CreatedBy:   req.CreatedBy,
		})
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, entryResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entry:         entry,
		})
	}
}

func handleEditEntry(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		entryID, err := pathID(r, "entryID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		var req entryRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if req.CreatedBy == "" {
			req.CreatedBy = callerUsername(r)
		}

		entry, err := deps.Ledger.Edit(r.Context(), accountID, entryID, &ledger.Entry{
			Date:        req.Date,
			Description: req.Description,
			Credit:      req.Credit,
			Debit:       req.Debit,
			CreatedBy:   req.CreatedBy,
		})
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, entryResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entry:         entry,
		})
	}
}

func handleDeleteEntry(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		entryID, err := pathID(r, "entryID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		if err := deps.Ledger.Delete(r.Context(), accountID, entryID); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "deleted")
	}
}

func handleRecompute(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Ledger.Recompute(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "recomputed")
	}
}

type validateAccountResponse struct {
	CorrelationID string                     `json:"correlation_id"`
	Valid         bool                       `json:"valid"`
	Checks        []*ledger.ValidationResult `json:"checks"`
}

func handleValidateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "accountID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		checks := deps.Checker.ComprehensiveValidation(r.Context(), id)
		valid := true
		for _, c := range checks {
			if !c.IsValid {
				valid = false
				break
			}
		}

		writeJSON(w, r, http.StatusOK, validateAccountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Valid:         valid,
			Checks:        checks,
		})
	}
}

type commissionResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Record        *commission.Record `json:"record"`
}

type listCommissionsResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Records       []*commission.Record `json:"records"`
	Total         int                  `json:"total"`
}

type saveCommissionResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Record        *commission.Record     `json:"record"`
	Overlaps      []commission.Overlap   `json:"overlaps,omitempty"`
	Posting       *commission.PostingRef `json:"posting,omitempty"`
}

func handlePreviewCommission(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in commission.SaveInput
		if err := decode(r, &in); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		record, err := deps.Commissions.Preview(r.Context(), &in)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, commissionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Record:        record,
		})
	}
}

func handleSaveCommission(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in commission.SaveInput
		if err := decode(r, &in); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if in.CreatedBy == "" {
			in.CreatedBy = callerUsername(r)
		}

		result, err := deps.Commissions.Save(r.Context(), &in)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, saveCommissionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Record:        result.Record,
			Overlaps:      result.Overlaps,
			Posting:       result.Posting,
		})
	}
}

func handleGetCommission(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "commissionID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		record, err := deps.Commissions.Get(r.Context(), id)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, commissionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Record:        record,
		})
	}
}

func handleListCommissions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := commission.Filter{
			DoctorID:    r.URL.Query().Get("doctor_id"),
			PeriodStart: r.URL.Query().Get("period_start"),
			PeriodEnd:   r.URL.Query().Get("period_end"),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				filter.Limit = i
			}
		}

		records, err := deps.Commissions.List(r.Context(), filter)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, listCommissionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Records:       records,
			Total:         len(records),
		})
	}
}

func handleDeleteCommission(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "commissionID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Commissions.Delete(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "deleted")
	}
}

type overlapsResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Overlaps      []commission.Overlap `json:"overlaps"`
}

func handleFindOverlaps(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var excludeID int64
		if v := q.Get("exclude_id"); v != "" {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				excludeID = i
			}
		}

		overlaps, err := deps.Commissions.FindOverlaps(r.Context(),
			q.Get("doctor_id"), q.Get("period_start"), q.Get("period_end"), excludeID)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, overlapsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Overlaps:      overlaps,
		})
	}
}
