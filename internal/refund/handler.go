// Package refund provides the HTTP intake surface: the partner webhook
// that feeds the call queue, plus operational queue endpoints.
package refund

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/simplauto/simplauto-agent-api/internal/phone"
	"github.com/simplauto/simplauto-agent-api/internal/pkg/ctxlog"
	"github.com/simplauto/simplauto-agent-api/internal/pkg/httputil"
	"github.com/simplauto/simplauto-agent-api/internal/pkg/metrics"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
)

// Placeholder values for optional vehicle fields left empty by the
// partner backoffice.
const (
	unknownBrand        = "non renseignée"
	unknownModel        = "non renseigné"
	unknownRegistration = "non renseignée"
)

// Handler handles HTTP requests for the refund intake module.
type Handler struct {
	store     queue.Store
	validator *validator.Validate
}

// NewHandler creates a new refund intake handler.
func NewHandler(store queue.Store) *Handler {
	return &Handler{
		store:     store,
		validator: validator.New(),
	}
}

// RegisterWebhookRoutes registers the public webhook routes.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/refund-request", h.CreateRefundRequest)
}

// RegisterQueueRoutes registers operational queue routes (admin only).
func (h *Handler) RegisterQueueRoutes(r chi.Router) {
	r.Get("/stats", h.GetStats)
	r.Post("/cleanup", h.Cleanup)
}

// RefundWebhookRequest mirrors the payload sent by the booking
// backoffice. backoffice_url is optional for backward compatibility
// with partners that predate outcome delivery.
type RefundWebhookRequest struct {
	Booking struct {
		Date          string `json:"date" validate:"required"`
		BackofficeURL string `json:"backoffice_url" validate:"omitempty,url"`
	} `json:"booking" validate:"required"`
	Order struct {
		Reference string `json:"reference" validate:"required"`
	} `json:"order" validate:"required"`
	Customer struct {
		FirstName string `json:"first_name" validate:"required"`
		LastName  string `json:"last_name" validate:"required"`
	} `json:"customer" validate:"required"`
	Vehicle struct {
		Brand              string `json:"brand"`
		Model              string `json:"model"`
		RegistrationNumber string `json:"registration_number"`
	} `json:"vehicule" validate:"required"`
	Center struct {
		Phone           string `json:"phone"`
		AffiliatedPhone string `json:"affiliated_phone"`
	} `json:"center" validate:"required"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// ToDomain converts the webhook payload to a refund request, filling
// placeholder values for empty vehicle fields.
func (r *RefundWebhookRequest) ToDomain(normalizedPhone string) domain.RefundRequest {
	brand := r.Vehicle.Brand
	if brand == "" {
		brand = unknownBrand
	}
	model := r.Vehicle.Model
	if model == "" {
		model = unknownModel
	}
	registration := r.Vehicle.RegistrationNumber
	if registration == "" {
		registration = unknownRegistration
	}

	return domain.RefundRequest{
		Reference:     r.Order.Reference,
		CustomerName:  r.Customer.FirstName + " " + r.Customer.LastName,
		BookingDate:   r.Booking.Date,
		VehicleBrand:  brand,
		VehicleModel:  model,
		Registration:  registration,
		CenterPhone:   normalizedPhone,
		BackofficeURL: r.Booking.BackofficeURL,
	}
}

// CreateRefundRequest handles POST /api/webhook/refund-request.
func (h *Handler) CreateRefundRequest(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	var req RefundWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		httputil.ValidationError(w, err)
		return
	}

	rawPhone := req.Center.Phone
	if rawPhone == "" {
		rawPhone = req.Center.AffiliatedPhone
	}
	if rawPhone == "" {
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		httputil.Error(w, http.StatusBadRequest, "center.phone or center.affiliated_phone is required")
		return
	}

	normalized := phone.NormalizeFrench(rawPhone)
	if !phone.IsValidFrench(normalized) {
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		httputil.Error(w, http.StatusBadRequest, "center phone is not a valid French number")
		return
	}

	result, err := h.store.Enqueue(r.Context(), req.ToDomain(normalized), req.ScheduledFor)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		httputil.HandleError(r.Context(), w, err, h.errorMappings())
		return
	}

	logger.Info("refund request enqueued",
		"item_id", result.ID,
		"reference", req.Order.Reference,
		"scheduled_for", result.ScheduledFor,
	)
	metrics.WebhookRequests.WithLabelValues("accepted").Inc()

	httputil.Success(w, http.StatusAccepted, result)
}

// GetStats handles GET /api/queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.errorMappings())
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// Cleanup handles POST /api/queue/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.Cleanup(r.Context(), queue.DefaultRetention)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, h.errorMappings())
		return
	}

	ctxlog.FromContext(r.Context()).Info("manual queue cleanup",
		"removed_completed", result.RemovedCompleted,
		"removed_failed", result.RemovedFailed,
	)

	httputil.Success(w, http.StatusOK, result)
}

func (h *Handler) errorMappings() []httputil.ErrorMapping {
	return []httputil.ErrorMapping{
		{Error: queue.ErrLockTimeout, Status: http.StatusServiceUnavailable, Message: "queue is busy, retry later"},
		{Error: queue.ErrNotFound, Status: http.StatusNotFound},
	}
}
