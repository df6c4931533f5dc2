// Package handlers contains the HTTP handler implementations for the scheduled
// payments API.
//
// It covers:
//   - Create, Get, Update (PENDING only) and Cancel
//   - Per-account listing and the ordered upcoming listings
//   - The service health endpoint
//   - Route registration with per-route rate limits
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scheduledpayments/internal/core"
	"scheduledpayments/internal/payments"
	"scheduledpayments/internal/types"
)

// serviceName is reported by the service health endpoint.
const serviceName = "scheduled-payments"

// --- Service Interfaces ---

// PaymentCommands admits, amends and cancels scheduled payments.
// Implemented by *payments.Controller.
type PaymentCommands interface {
	Create(ctx context.Context, in payments.CreateInput) (*types.ScheduledPayment, error)
	Update(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error)
	Cancel(ctx context.Context, id string) (*types.ScheduledPayment, error)
}

// PaymentQueries is the read side. Implemented by *payments.QueryService.
type PaymentQueries interface {
	Get(ctx context.Context, id string) (*types.ScheduledPayment, error)
	ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error)
	ListUpcoming(ctx context.Context, accountID, rawLimit string) ([]*types.ScheduledPayment, error)
}

// RateLimitFunc builds the rate-limit middleware for one route. Satisfied by
// (*core.Server).RateLimit.
type RateLimitFunc func(action string, scope core.KeyScope) func(http.Handler) http.Handler

// --- Request Models ---

// ScheduleRequest is the wire form of a schedule. startDate is accepted as an
// alias of nextExecutionDate for recurring schedules.
type ScheduleRequest struct {
	Frequency         types.Frequency `json:"frequency" validate:"required,frequency"`
	ExecutionDate     *time.Time      `json:"executionDate,omitempty"`
	NextExecutionDate *time.Time      `json:"nextExecutionDate,omitempty"`
	StartDate         *time.Time      `json:"startDate,omitempty"`
	EndDate           *time.Time      `json:"endDate,omitempty"`
	DayOfMonth        int             `json:"dayOfMonth,omitempty" validate:"gte=0,lte=31"`
}

func (s ScheduleRequest) toSchedule() types.Schedule {
	next := s.NextExecutionDate
	if next == nil && s.Frequency.IsRecurring() {
		next = s.StartDate
	}
	return types.Schedule{
		Frequency:         s.Frequency,
		ExecutionDate:     s.ExecutionDate,
		NextExecutionDate: next,
		EndDate:           s.EndDate,
		DayOfMonth:        s.DayOfMonth,
	}
}

// CreateScheduledPaymentRequest is the request body for POST /v1/scheduled-payments.
type CreateScheduledPaymentRequest struct {
	ID          string            `json:"id,omitempty" validate:"omitempty,max=64"`
	AccountID   string            `json:"accountId" validate:"required,max=64"`
	Description string            `json:"description,omitempty" validate:"max=500"`
	Beneficiary types.Beneficiary `json:"beneficiary"`
	Amount      types.Amount      `json:"amount"`
	Schedule    ScheduleRequest   `json:"schedule"`
}

// UpdateScheduledPaymentRequest is the request body for PATCH
// /v1/scheduled-payments/{id}. Omitted fields are left unchanged.
type UpdateScheduledPaymentRequest struct {
	AccountID   *string            `json:"accountId,omitempty"`
	Description *string            `json:"description,omitempty" validate:"omitempty,max=500"`
	Beneficiary *types.Beneficiary `json:"beneficiary,omitempty"`
	Amount      *types.Amount      `json:"amount,omitempty"`
	Schedule    *ScheduleRequest   `json:"schedule,omitempty"`
}

// --- Handler ---

// PaymentHandler serves the scheduled payments API.
type PaymentHandler struct {
	commands  PaymentCommands
	queries   PaymentQueries
	validator *core.Validator
	logger    *slog.Logger
	rateLimit RateLimitFunc
}

// NewPaymentHandler creates a PaymentHandler. rateLimit may be nil, in which
// case routes are not limited.
func NewPaymentHandler(commands PaymentCommands, queries PaymentQueries, v *core.Validator, l *slog.Logger, rateLimit RateLimitFunc) *PaymentHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PaymentHandler{
		commands:  commands,
		queries:   queries,
		validator: v,
		logger:    l,
		rateLimit: rateLimit,
	}
}

// RegisterRoutes mounts the scheduled payment routes onto the /v1 router.
//
// Account-scoped budgets apply to create and the account listings; every
// other route is counted against the client IP.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduled-payments", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.With(h.limited(core.ActionCreate, core.ScopeAccount)).Post("/", h.Create)
		r.With(h.limited(core.ActionUpcoming, core.ScopeIP)).Get("/upcoming", h.ListUpcoming)

		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.With(h.limited(core.ActionList, core.ScopeAccount)).Get("/", h.ListByAccount)
			r.With(h.limited(core.ActionUpcoming, core.ScopeAccount)).Get("/upcoming", h.ListUpcoming)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.With(h.limited(core.ActionDefault, core.ScopeIP)).Get("/", h.Get)
			r.With(h.limited(core.ActionDefault, core.ScopeIP)).Patch("/", h.Update)
			r.With(h.limited(core.ActionDelete, core.ScopeIP)).Delete("/", h.Cancel)
		})
	})
}

func (h *PaymentHandler) limited(action string, scope core.KeyScope) func(http.Handler) http.Handler {
	if h.rateLimit == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.rateLimit(action, scope)
}

// Health handles GET /v1/scheduled-payments/health.
func (h *PaymentHandler) Health(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

// Create handles POST /v1/scheduled-payments.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduledPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.commands.Create(r.Context(), payments.CreateInput{
		ID:          req.ID,
		AccountID:   req.AccountID,
		Description: req.Description,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		Schedule:    req.Schedule.toSchedule(),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/scheduled-payments/"+p.ID)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: p})
}

// Get handles GET /v1/scheduled-payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.queries.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Update handles PATCH /v1/scheduled-payments/{id}.
func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateScheduledPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.AccountID != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationFailed,
			"accountId cannot be changed", nil, map[string]any{"field": "accountId"}))
		return
	}

	upd := types.PaymentUpdate{
		Description: req.Description,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
	}
	if req.Schedule != nil {
		s := req.Schedule.toSchedule()
		upd.Schedule = &s
	}
	if upd.Description == nil && upd.Beneficiary == nil && upd.Amount == nil && upd.Schedule == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationFailed,
			"request must change at least one field", nil))
		return
	}

	p, err := h.commands.Update(r.Context(), id, upd)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Cancel handles DELETE /v1/scheduled-payments/{id}. The payment is kept with
// status CANCELLED and returned.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.commands.Cancel(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// ListByAccount handles GET /v1/scheduled-payments/accounts/{accountId}.
func (h *PaymentHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountId")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	items, err := h.queries.ListByAccount(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}

// ListUpcoming handles both GET /v1/scheduled-payments/upcoming and
// GET /v1/scheduled-payments/accounts/{accountId}/upcoming. The limit query
// parameter is required.
func (h *PaymentHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "accountId"))

	items, err := h.queries.ListUpcoming(r.Context(), accountID, r.URL.Query().Get("limit"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}

// pathID reads and bounds a route identifier.
func pathID(r *http.Request, param string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" || len(id) > types.MaxIDLength {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidID,
			param+" is missing or too long", nil, map[string]any{"field": param})
	}
	return id, nil
}
