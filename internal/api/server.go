package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"tycoon/internal/config"
	"tycoon/internal/ledger"
	"tycoon/internal/market"
	"tycoon/internal/metrics"
	"tycoon/internal/model"
	"tycoon/internal/registry"
	"tycoon/internal/store"
	"tycoon/internal/upgrade"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg      config.Config
	log      *slog.Logger
	store    store.Store
	ledger   *ledger.Service
	registry *registry.Service
	upgrades *upgrade.Service
	engine   *market.Engine
	mux      *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, st store.Store, led *ledger.Service, reg *registry.Service, ups *upgrade.Service, engine *market.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		store:    st,
		ledger:   led,
		registry: reg,
		upgrades: ups,
		engine:   engine,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(countRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)

			r.Post("/register", s.handleRegister)
			r.Get("/accounts", s.handleAccountsList)
			r.Get("/accounts/{id}/balance", s.handleBalance)
			r.Get("/accounts/{id}/ledger", s.handleLedger)
			r.Post("/transfers", s.handleTransfer)

			r.Get("/companies", s.handleCompaniesList)
			r.Get("/companies/{id}", s.handleCompanyDetail)
			r.Post("/companies", s.handleCompanyCreate)
			r.Post("/companies/{id}/products", s.handleProductCreate)
			r.Get("/products", s.handleProductsList)

			r.Get("/upgrades", s.handleUpgradesList)
			r.Post("/upgrades/{id}/buy", s.handleUpgradeBuy)
			r.Post("/user-upgrades/{id}/use", s.handleUpgradeUse)

			r.Post("/admin/settle", s.handleSettle)
		})
	})
}

// identityMiddleware trusts the upstream gateway to authenticate the caller
// and forward the identity. Authentication itself lives outside this
// service.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
	})
}

func userFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("missing identity context")
	}
	return userID, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	account, err := s.registry.RegisterPlayer(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleAccountsList(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	accounts, err := s.registry.AccountsFor(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	balance, err := s.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": accountID, "balance": balance})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	entries, err := s.store.LedgerEntriesByAccount(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		FromAccountID string          `json:"from_account_id"`
		ToAccountID   string          `json:"to_account_id"`
		Amount        decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := s.store.GetAccount(r.Context(), in.FromAccountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if from.OwnerID != userID {
		writeError(w, http.StatusForbidden, model.ErrUnauthorized.Error())
		return
	}
	entryID, err := s.ledger.Transfer(r.Context(), in.FromAccountID, in.ToAccountID, in.Amount, model.TxTransfer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry_id": entryID})
}

func (s *Server) handleCompaniesList(w http.ResponseWriter, r *http.Request) {
	companies, err := s.store.ListCompanies(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (s *Server) handleCompanyDetail(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")
	company, err := s.store.GetCompany(r.Context(), companyID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	products, err := s.store.ListActiveProductsByCompany(r.Context(), companyID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	series, err := s.store.ListPricePoints(r.Context(), companyID, 64)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company":  company,
		"products": products,
		"series":   series,
	})
}

func (s *Server) handleCompanyCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	company, err := s.registry.FoundCompany(r.Context(), userID, in.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, company)
}

func (s *Server) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	companyID := chi.URLParam(r, "id")
	var in struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := s.registry.AddProduct(r.Context(), userID, companyID, in.Name, in.Price)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleProductsList(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListActiveProducts(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleUpgradesList(w http.ResponseWriter, r *http.Request) {
	upgrades, err := s.store.ListUpgrades(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upgrades": upgrades})
}

func (s *Server) handleUpgradeBuy(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	uu, err := s.upgrades.Purchase(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uu)
}

func (s *Server) handleUpgradeUse(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		TargetCompanyID string `json:"target_company_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.upgrades.Use(r.Context(), userID, chi.URLParam(r, "id"), in.TargetCompanyID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSettle is an operational escape hatch; the worker binary is the
// normal trigger.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.RunTick(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{"settled": false, "reason": "catalog empty"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settled": true, "result": result})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrAccountNotFound),
		errors.Is(err, model.ErrCompanyNotFound),
		errors.Is(err, model.ErrProductNotFound),
		errors.Is(err, model.ErrUpgradeNotFound),
		errors.Is(err, model.ErrBalanceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUpgradeUsed),
		errors.Is(err, model.ErrCompanyNotPublic),
		errors.Is(err, model.ErrBalanceExists),
		errors.Is(err, model.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
