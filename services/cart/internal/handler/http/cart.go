package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/pkg/httputil"
	"github.com/Aayuv360/Moha-sub001/pkg/validator"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/service"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=10000"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=10000"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	cart, err := h.service.GetCart(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, cart)
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	item, err := h.service.AddItem(r.Context(), service.AddItemInput{
		Owner:     owner,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, item)
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	item, err := h.service.UpdateQuantity(r.Context(), owner, chi.URLParam(r, "itemId"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, item)
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}. It answers 204
// whether or not the item existed.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), owner, chi.URLParam(r, "itemId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MergeCart handles POST /api/v1/cart/merge. It needs both a bearer token
// and the session header; the body is ignored.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 1<<10))

	id := identityFromContext(r.Context())
	if !id.Authenticated() {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{Error: &httputil.ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "merge requires a bearer token",
		}})
		return
	}
	if id.SessionID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{Error: &httputil.ErrorResponse{
			Code:    "MISSING_IDENTITY",
			Message: "merge requires the " + SessionIDHeader + " header",
		}})
		return
	}

	result, err := h.service.MergeOnLogin(r.Context(), id.SessionID, id.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// owner resolves the cart owner for this request. The user cart applies
// whenever the request is authenticated.
func (h *CartHandler) owner(w http.ResponseWriter, r *http.Request) (domain.OwnerKey, bool) {
	owner, err := domain.ResolveOwnerKey(identityFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, apperrors.Validation(err.Error()), h.logger)
		return "", false
	}
	return owner, true
}
