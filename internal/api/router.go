package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/commission"
	"github.com/example/clinic-finance/internal/ledger"
	"github.com/example/clinic-finance/internal/refdata"
	"github.com/example/clinic-finance/internal/security"
	"github.com/example/clinic-finance/internal/settings"
	"github.com/example/clinic-finance/pkg/audit"
)

// AccountStore is the slice of the ledger store the API needs.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *ledger.Account) (*ledger.Account, error)
	GetAccount(ctx context.Context, id int64) (*ledger.Account, error)
	UpdateAccount(ctx context.Context, a *ledger.Account) error
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error)
	AccountKinds(ctx context.Context) (kinds, subkinds []string, err error)
	DeleteAccount(ctx context.Context, id int64) error
	DeactivateAccount(ctx context.Context, id int64) error
	BindDoctor(ctx context.Context, b *ledger.Binding) (*ledger.Binding, error)
	ListBindings(ctx context.Context, accountID int64) ([]*ledger.Binding, error)
	DeactivateBinding(ctx context.Context, id int64) error
	ListEntries(ctx context.Context, accountID int64) ([]*ledger.Entry, error)
}

// LedgerEngine mutates account ledgers.
type LedgerEngine interface {
	Append(ctx context.Context, in *ledger.Entry) (*ledger.Entry, error)
	Edit(ctx context.Context, accountID, entryID int64, upd *ledger.Entry) (*ledger.Entry, error)
	Delete(ctx context.Context, accountID, entryID int64) error
	Recompute(ctx context.Context, accountID int64) error
}

// LedgerChecker runs the ledger consistency checks.
type LedgerChecker interface {
	ComprehensiveValidation(ctx context.Context, accountID int64) []*ledger.ValidationResult
}

// CommissionService is the commission workflow surface.
type CommissionService interface {
	Preview(ctx context.Context, in *commission.SaveInput) (*commission.Record, error)
	Save(ctx context.Context, in *commission.SaveInput) (*commission.SaveResult, error)
	Get(ctx context.Context, id int64) (*commission.Record, error)
	List(ctx context.Context, filter commission.Filter) ([]*commission.Record, error)
	Delete(ctx context.Context, id int64) error
	FindOverlaps(ctx context.Context, doctorID, start, end string, excludeID int64) ([]commission.Overlap, error)
}

// SettingsStore serves operator-editable defaults.
type SettingsStore interface {
	ListInstallmentRates(ctx context.Context) ([]settings.InstallmentRate, error)
	ReplaceInstallmentRates(ctx context.Context, rates []settings.InstallmentRate) error
	ListExpenseCategories(ctx context.Context) ([]settings.ExpenseCategory, error)
	AddExpenseCategory(ctx context.Context, name string) (*settings.ExpenseCategory, error)
	RemoveExpenseCategory(ctx context.Context, id int64) error
}

// UserDirectory manages back-office logins.
type UserDirectory interface {
	Authenticate(ctx context.Context, username, password string) (*auth.User, error)
	CreateUser(ctx context.Context, username, password, displayName, role string) (*auth.User, error)
	ListUsers(ctx context.Context) ([]*auth.User, error)
	DeactivateUser(ctx context.Context, id int64) error
}

// AuditViewer exposes the retained audit window.
type AuditViewer interface {
	Entries() []*audit.LogEntry
	Verify() bool
}

type Dependencies struct {
	Logger *slog.Logger
	Tokens *auth.TokenIssuer

	Users       UserDirectory
	Accounts    AccountStore
	Ledger      LedgerEngine
	Checker     LedgerChecker
	Commissions CommissionService
	Settings    SettingsStore
	Feed        refdata.Feed
	Audit       AuditViewer
	Recorder    Recorder

	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.RequestSize(deps.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/login", handleLogin(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Tokens, onAuthError))
		if deps.Recorder != nil {
			r.Use(AuditMiddleware(deps.Recorder))
		}

		admin := auth.RequireRole(onAuthError, auth.RoleAdmin)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", handleListAccounts(deps))
			r.Post("/", handleCreateAccount(deps))
			r.Get("/kinds", handleAccountKinds(deps))

			r.Route("/{accountID}", func(r chi.Router) {
				r.Get("/", handleGetAccount(deps))
				r.Put("/", handleUpdateAccount(deps))
				r.With(admin).Delete("/", handleDeleteAccount(deps))
				r.Post("/deactivate", handleDeactivateAccount(deps))

				r.Get("/bindings", handleListBindings(deps))
				r.Post("/bindings", handleBindDoctor(deps))

				r.Get("/entries", handleListEntries(deps))
				r.Post("/entries", handleAppendEntry(deps))
				r.Put("/entries/{entryID}", handleEditEntry(deps))
				r.Delete("/entries/{entryID}", handleDeleteEntry(deps))

				r.Post("/recompute", handleRecompute(deps))
				r.Get("/validate", handleValidateAccount(deps))
			})
		})

		r.Post("/bindings/{bindingID}/deactivate", handleDeactivateBinding(deps))

		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", handleListCommissions(deps))
			r.Post("/", handleSaveCommission(deps))
			r.Post("/preview", handlePreviewCommission(deps))
			r.Get("/overlaps", handleFindOverlaps(deps))
			r.Get("/{commissionID}", handleGetCommission(deps))
			r.With(admin).Delete("/{commissionID}", handleDeleteCommission(deps))
		})

		r.Route("/refdata", func(r chi.Router) {
			r.Get("/doctors", handleListDoctors(deps))
			r.Get("/branches", handleListBranches(deps))
			r.Get("/collections", handleListCollections(deps))
			r.Get("/methods/{label}", handleMethodDefaults())
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/installment-rates", handleListInstallmentRates(deps))
			r.With(admin).Put("/installment-rates", handleReplaceInstallmentRates(deps))
			r.Get("/expense-categories", handleListExpenseCategories(deps))
			r.With(admin).Post("/expense-categories", handleAddExpenseCategory(deps))
			r.With(admin).Delete("/expense-categories/{categoryID}", handleRemoveExpenseCategory(deps))
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(admin)
			r.Get("/", handleListUsers(deps))
			r.Post("/", handleCreateUser(deps))
			r.Post("/{userID}/deactivate", handleDeactivateUser(deps))
		})

		r.With(admin).Get("/audit", handleAuditWindow(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r
}
