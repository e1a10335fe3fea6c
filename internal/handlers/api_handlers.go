package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"aqi-platform/internal/models"
	"aqi-platform/internal/schema"
	"aqi-platform/internal/services"
	"aqi-platform/pkg/cache"
	"aqi-platform/pkg/forecaster"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// APIPrefix is the versioned path every resource is mounted under
const APIPrefix = "/api/v1"

const maxBodyBytes = 10 << 20

// Response messages
const (
	msgNoInput          = "No input data provided"
	msgBadFormat        = "Incorrect data format"
	msgInsertOK         = "Insert successful"
	msgDeleteOK         = "Delete successful"
	msgCooldown         = "Email already sent within the last 24 hours. Please check your email."
	msgExistingUser     = "Existing User - An email with the token has been sent."
	msgNewUser          = "New User - An email with the token has been sent."
	msgInternal         = "internal server error"
	msgModelUnavailable = "forecast model temporarily unavailable"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the services the API handlers call
type Dependencies struct {
	Access       *services.AccessService
	Accounting   *services.AccountingService
	Queries      *services.QueryService
	Measurements *services.MeasurementService
	Forecasts    *services.ForecastService
	Inference    *services.InferenceService
	Provisioning *services.ProvisioningService
	Cache        cache.ResponseCache
	Health       HealthChecker
}

// APIHandler serves the AQI REST resources
type APIHandler struct {
	deps    Dependencies
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(deps Dependencies, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *APIHandler {
	return &APIHandler{
		deps:    deps,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// MessageResponse is the body of a successful write
type MessageResponse struct {
	Message string `json:"message"`
}

// PredictionResponse is the body of POST /predict
type PredictionResponse struct {
	Predictions []int `json:"Predictions"`
}

// GetCurrent handles GET /api/v1/current. Responses are cached per query.
func (h *APIHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := cache.RequestKey(r.URL.Path, r.URL.Query(), "token")

	entry, err := h.deps.Cache.Get(ctx, key)
	switch {
	case err == nil:
		h.metrics.RecordCacheResult("hit")
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(entry.Status)
		w.Write(entry.Body)
		return
	case errors.Is(err, cache.ErrMiss):
		h.metrics.RecordCacheResult("miss")
	default:
		h.metrics.RecordCacheResult("error")
		h.logger.Warn(ctx, "[CACHE_ERROR] Response cache lookup failed", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
	}

	records, err := h.deps.Queries.Current(ctx, r.URL.Query())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Measurement{}
	}

	body, err := json.Marshal(records)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.deps.Cache.Set(ctx, key, &cache.Entry{Status: http.StatusOK, ContentType: "application/json", Body: body}); err != nil {
		h.logger.Warn(ctx, "[CACHE_ERROR] Response cache store failed", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// PostCurrent handles POST /api/v1/current
func (h *APIHandler) PostCurrent(w http.ResponseWriter, r *http.Request) {
	h.insertMeasurements(w, r, models.CollectionCurrent)
}

// DeleteCurrent handles DELETE /api/v1/current
func (h *APIHandler) DeleteCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.deps.Measurements.DeleteAll(ctx, models.CollectionCurrent); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.clearCache(ctx)
	h.sendJSON(w, MessageResponse{Message: msgDeleteOK}, http.StatusOK)
}

// GetHistoric handles GET /api/v1/historic-data
func (h *APIHandler) GetHistoric(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Queries.Historic(r.Context(), r.URL.Query())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Measurement{}
	}
	h.sendJSON(w, records, http.StatusOK)
}

// PostHistoric handles POST /api/v1/historic-data
func (h *APIHandler) PostHistoric(w http.ResponseWriter, r *http.Request) {
	h.insertMeasurements(w, r, models.CollectionHistoric)
}

func (h *APIHandler) insertMeasurements(w http.ResponseWriter, r *http.Request, collection models.Collection) {
	ctx := r.Context()

	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	records, err := schema.DecodeMeasurements(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.deps.Measurements.Insert(ctx, collection, records); err != nil {
		h.handleError(w, r, err)
		return
	}

	if collection == models.CollectionCurrent {
		h.clearCache(ctx)
	}
	h.sendJSON(w, MessageResponse{Message: msgInsertOK}, http.StatusOK)
}

// GetForecasts handles GET /api/v1/forecasts
func (h *APIHandler) GetForecasts(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Queries.Forecasts(r.Context(), r.URL.Query())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Forecast{}
	}
	h.sendJSON(w, records, http.StatusOK)
}

// PostForecasts handles POST /api/v1/forecasts
func (h *APIHandler) PostForecasts(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	records, err := schema.DecodeForecasts(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.deps.Forecasts.Insert(r.Context(), records); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendJSON(w, MessageResponse{Message: msgInsertOK}, http.StatusOK)
}

// PatchForecasts handles PATCH /api/v1/forecasts
func (h *APIHandler) PatchForecasts(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	patch, err := schema.DecodeForecastPatch(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if _, err := h.deps.Forecasts.Patch(r.Context(), patch); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendJSON(w, MessageResponse{Message: msgInsertOK}, http.StatusOK)
}

// PostModelData handles POST /api/v1/model-data
func (h *APIHandler) PostModelData(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	queries, err := schema.DecodeModelDataQueries(raw, h.deps.Queries.EarliestDate(), h.deps.Queries.Today())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	records, err := h.deps.Queries.ModelData(r.Context(), queries)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Measurement{}
	}
	h.sendJSON(w, records, http.StatusOK)
}

// PostPredict handles POST /api/v1/predict
func (h *APIHandler) PostPredict(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	req, err := schema.DecodePredictionRequest(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	predictions, err := h.deps.Inference.Predict(r.Context(), req.Data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendJSON(w, PredictionResponse{Predictions: predictions}, http.StatusOK)
}

// PostNewUser handles POST /api/v1/new-user
func (h *APIHandler) PostNewUser(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}

	req, err := schema.DecodeNewUserRequest(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	outcome, err := h.deps.Provisioning.RequestToken(r.Context(), *req.Email)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	msg := msgNewUser
	if outcome == services.ExistingUserNotified {
		msg = msgExistingUser
	}
	h.sendJSON(w, MessageResponse{Message: msg}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.deps.Health != nil {
		if err := h.deps.Health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK] Database unreachable", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.sendJSON(w, status, code)
}

func (h *APIHandler) clearCache(ctx context.Context) {
	if err := h.deps.Cache.Clear(ctx); err != nil {
		h.logger.Error(ctx, "[CACHE_ERROR] Failed to clear response cache", logging.Fields{}, err)
	}
}

// readBody reads the request body and rejects an empty payload. It writes
// the error response itself and returns false when the handler should stop.
func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.sendError(w, r, msgBadFormat, http.StatusBadRequest, "")
		return nil, false
	}
	if schema.IsEmptyPayload(raw) {
		h.sendError(w, r, msgNoInput, http.StatusBadRequest, "")
		return nil, false
	}
	return raw, true
}

// handleError maps a service error onto a status code and message
func (h *APIHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var (
		authErr  *services.AuthError
		validErr *models.ValidationError
	)

	switch {
	case errors.As(err, &authErr):
		code := http.StatusMethodNotAllowed
		if authErr.Kind == services.InsufficientPermission {
			code = http.StatusForbidden
		}
		h.metrics.RecordAPIError("auth", routeName(r))
		h.sendError(w, r, authErr.Error(), code, "")
	case errors.As(err, &validErr):
		h.metrics.RecordAPIError("validation", routeName(r))
		h.sendError(w, r, msgBadFormat, http.StatusBadRequest, validErr.Error())
	case errors.Is(err, models.ErrCooldownActive):
		h.sendError(w, r, msgCooldown, http.StatusExpectationFailed, "")
	case errors.Is(err, forecaster.ErrUnavailable):
		h.metrics.RecordAPIError("model_unavailable", routeName(r))
		h.sendError(w, r, msgModelUnavailable, http.StatusServiceUnavailable, "")
	default:
		h.metrics.RecordAPIError("internal_error", routeName(r))
		h.logger.Error(ctx, "[API_ERROR] Request failed", logging.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}, err)
		h.sendError(w, r, msgInternal, http.StatusInternalServerError, "")
	}
}

// sendJSON sends a JSON response
func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *APIHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int, details string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
		Details: details,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all API routes
func (h *APIHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix(APIPrefix).Subrouter()

	api.HandleFunc("/current", h.protect("/current:GET", services.AccessRead, h.GetCurrent)).Methods(http.MethodGet)
	api.HandleFunc("/current", h.protect("/current:POST", services.AccessWrite, h.PostCurrent)).Methods(http.MethodPost)
	api.HandleFunc("/current", h.protect("/current:DELETE", services.AccessWrite, h.DeleteCurrent)).Methods(http.MethodDelete)

	api.HandleFunc("/historic-data", h.protect("/historic-data:GET", services.AccessRead, h.GetHistoric)).Methods(http.MethodGet)
	api.HandleFunc("/historic-data", h.protect("/historic-data:POST", services.AccessWrite, h.PostHistoric)).Methods(http.MethodPost)

	api.HandleFunc("/forecasts", h.protect("/forecasts:GET", services.AccessRead, h.GetForecasts)).Methods(http.MethodGet)
	api.HandleFunc("/forecasts", h.protect("/forecasts:POST", services.AccessWrite, h.PostForecasts)).Methods(http.MethodPost)
	api.HandleFunc("/forecasts", h.protect("/forecasts:PATCH", services.AccessWrite, h.PatchForecasts)).Methods(http.MethodPatch)

	api.HandleFunc("/model-data", h.protect("/model-data:POST", services.AccessWrite, h.PostModelData)).Methods(http.MethodPost)
	api.HandleFunc("/predict", h.protect("/predict:POST", services.AccessWrite, h.PostPredict)).Methods(http.MethodPost)
	api.HandleFunc("/new-user", h.protect("/new-user:POST", services.AccessRead, h.PostNewUser)).Methods(http.MethodPost)

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc(openAPIPath, OpenAPISpec).Methods(http.MethodGet)
	router.HandleFunc("/api/docs", SwaggerUI).Methods(http.MethodGet)
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
