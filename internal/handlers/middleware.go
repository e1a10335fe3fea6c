package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"aqi-platform/internal/services"
	"aqi-platform/pkg/logging"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestID attaches a request id to the context and response, reusing the
// caller's id when one is supplied.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// protect authenticates the token query parameter at the given level, records
// the call for accounting and then runs next. resource names the endpoint and
// verb in request records and metrics.
func (h *APIHandler) protect(resource string, level services.AccessLevel, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues(resource))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			timer.ObserveDuration()
			h.metrics.RecordAPIRequest(resource, r.Method, statusLabel(rec.status))
		}()

		token := r.URL.Query().Get("token")
		user, err := h.deps.Access.Authenticate(ctx, token, level)
		if err != nil {
			h.logger.Warn(ctx, "[AUTH_REJECTED] Request rejected", logging.Fields{
				"resource": resource,
				"reason":   err.Error(),
			})
			h.handleError(rec, r, err)
			return
		}

		h.deps.Accounting.Record(ctx, token, resource)

		h.logger.Debug(ctx, "[API_REQUEST] Authorized request", logging.Fields{
			"resource": resource,
			"user_id":  user.ID,
		})
		next(rec, r)
	}
}

// routeName returns the matched route template, or the raw path when the
// request did not go through the router.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
