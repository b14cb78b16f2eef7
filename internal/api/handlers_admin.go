package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/commission"
	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/refdata"
	"github.com/example/clinic-finance/internal/security"
	"github.com/example/clinic-finance/internal/settings"
	"github.com/example/clinic-finance/pkg/audit"
)

type listDoctorsResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Doctors       []refdata.Doctor `json:"doctors"`
}

func handleListDoctors(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := deps.Feed.Doctors(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listDoctorsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Doctors:       doctors,
		})
	}
}

type listBranchesResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Branches      []refdata.Branch `json:"branches"`
}

func handleListBranches(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		branches, err := deps.Feed.Branches(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listBranchesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Branches:      branches,
		})
	}
}

type listCollectionsResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Collections   []refdata.RawCollection `json:"collections"`
}

func handleListCollections(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID := q.Get("doctor_id")
		start := q.Get("period_start")
		end := q.Get("period_end")
		if doctorID == "" || start == "" || end == "" {
			security.WriteFault(w, r, fault.New(fault.Validation,
				"doctor_id, period_start and period_end are required"))
			return
		}

		collections, err := deps.Feed.Collections(r.Context(), doctorID, start, end)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listCollectionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Collections:   collections,
		})
	}
}

type methodDefaultsResponse struct {
	CorrelationID string                   `json:"correlation_id"`
	Method        string                   `json:"method"`
	Profile       commission.MethodProfile `json:"profile"`
}

func handleMethodDefaults() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		label := chi.URLParam(r, "label")
		writeJSON(w, r, http.StatusOK, methodDefaultsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Method:        string(commission.NormalizePaymentMethod(label)),
			Profile:       commission.MethodDefaults(label),
		})
	}
}

type installmentRatesResponse struct {
	CorrelationID string                     `json:"correlation_id"`
	Rates         []settings.InstallmentRate `json:"rates"`
}

func handleListInstallmentRates(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rates, err := deps.Settings.ListInstallmentRates(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, installmentRatesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Rates:         rates,
		})
	}
}

func handleReplaceInstallmentRates(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req replaceRatesRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		rates := make([]settings.InstallmentRate, 0, len(req.Rates))
		for _, row := range req.Rates {
			rates = append(rates, settings.InstallmentRate{
				Installments: row.Installments,
				Rate:         row.Rate,
			})
		}

		if err := deps.Settings.ReplaceInstallmentRates(r.Context(), rates); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		updated, err := deps.Settings.ListInstallmentRates(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, installmentRatesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Rates:         updated,
		})
	}
}

type expenseCategoriesResponse struct {
	CorrelationID string                     `json:"correlation_id"`
	Categories    []settings.ExpenseCategory `json:"categories"`
}

type expenseCategoryResponse struct {
	CorrelationID string                    `json:"correlation_id"`
	Category      *settings.ExpenseCategory `json:"category"`
}

func handleListExpenseCategories(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := deps.Settings.ListExpenseCategories(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, expenseCategoriesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Categories:    categories,
		})
	}
}

func handleAddExpenseCategory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addCategoryRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		category, err := deps.Settings.AddExpenseCategory(r.Context(), req.Name)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, expenseCategoryResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Category:      category,
		})
	}
}

func handleRemoveExpenseCategory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "categoryID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Settings.RemoveExpenseCategory(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "deleted")
	}
}

type listUsersResponse struct {
	CorrelationID string       `json:"correlation_id"`
	Users         []*auth.User `json:"users"`
}

type userResponse struct {
	CorrelationID string     `json:"correlation_id"`
	User          *auth.User `json:"user"`
}

func handleListUsers(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Users.ListUsers(r.Context())
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listUsersResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Users:         users,
		})
	}
}

func handleCreateUser(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := decode(r, &req); err != nil {
			security.WriteFault(w, r, err)
			return
		}

		user, err := deps.Users.CreateUser(r.Context(),
			req.Username, req.Password, req.DisplayName, req.Role)
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, userResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			User:          user,
		})
	}
}

func handleDeactivateUser(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "userID")
		if err != nil {
			security.WriteFault(w, r, err)
			return
		}
		if err := deps.Users.DeactivateUser(r.Context(), id); err != nil {
			security.WriteFault(w, r, err)
			return
		}
		writeAction(w, r, "inactive")
	}
}

type auditWindowResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Verified      bool              `json:"verified"`
	Entries       []*audit.LogEntry `json:"entries"`
}

func handleAuditWindow(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, auditWindowResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Verified:      deps.Audit.Verify(),
			Entries:       deps.Audit.Entries(),
		})
	}
}
