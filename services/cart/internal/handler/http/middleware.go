package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/Aayuv360/Moha-sub001/pkg/httputil"
	"github.com/Aayuv360/Moha-sub001/pkg/logger"
	"github.com/Aayuv360/Moha-sub001/pkg/middleware"
	"github.com/Aayuv360/Moha-sub001/pkg/validator"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
)

// SessionIDHeader carries the client-generated anonymous session token.
const SessionIDHeader = "X-Session-ID"

type contextKey string

const identityKey contextKey = "identity"

type identityHeaders struct {
	SessionID string `json:"X-Session-ID" validate:"omitempty,printascii,max=128"`
}

// Identity resolves the caller's cart owner from the bearer claims set by
// middleware.OptionalAuth and the session header. A request carrying
// neither is rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := identityHeaders{SessionID: strings.TrimSpace(r.Header.Get(SessionIDHeader))}
		if err := validator.Validate(headers); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}

		id := domain.Identity{
			UserID:    middleware.UserIDFromContext(r.Context()),
			SessionID: headers.SessionID,
		}
		owner, err := domain.ResolveOwnerKey(id)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{Error: &httputil.ErrorResponse{
				Code:    "MISSING_IDENTITY",
				Message: "a bearer token or " + SessionIDHeader + " header is required",
			}})
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		ctx = logger.WithOwnerKey(ctx, string(owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFromContext returns the identity stored by Identity.
func identityFromContext(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey).(domain.Identity)
	return id
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{Error: &httputil.ErrorResponse{
					Code:    "UNSUPPORTED_MEDIA_TYPE",
					Message: "Content-Type must be application/json",
				}})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
