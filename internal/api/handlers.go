package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/auth"
	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
	"github.com/xtrntr/tradebot/internal/notify"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

type ctxKey struct{}

var userIDKey ctxKey

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service     *market.Service
	AuthService *auth.AuthService
	Hub         *notify.Hub
	Logger      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(service *market.Service, authService *auth.AuthService, hub *notify.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: service, AuthService: authService, Hub: hub, Logger: logger}
}

// Routes mounts every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/token", h.IssueToken)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/ws", h.Notifications)
		r.Get("/quotes/{symbol}", h.Quote)

		r.Group(func(r chi.Router) {
			r.Use(requireMember)
			r.Post("/orders/limit", h.PlaceLimitOrder)
			r.Get("/orders", h.GetUserOrders)
			r.Delete("/orders/{id}", h.CancelOrder)
			r.Post("/alerts", h.PlaceAlert)
			r.Get("/alerts", h.GetUserAlerts)
			r.Delete("/alerts/{id}", h.RemoveAlert)
			r.Post("/trades/buy", h.MarketBuy)
			r.Post("/trades/sell", h.MarketSell)
			r.Get("/portfolio", h.Portfolio)
			r.Get("/balance", h.Balance)
			r.Get("/watchlist", h.Watchlist)
			r.Post("/watchlist", h.Watch)
			r.Delete("/watchlist/{symbol}", h.Unwatch)
		})
	})
}

// CORS allows browser calls from origins, or from anywhere when origins is
// empty. Requests authenticate with bearer tokens, so credentials are not allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto status codes
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, market.ErrInsufficientShares):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, market.ErrNotOwner):
		writeError(w, http.StatusForbidden, "Order belongs to another user")
	case errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, market.ErrAlreadyWatched):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pricefeed.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Price unavailable")
	default:
		h.Logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// IssueToken exchanges the gateway secret for a token acting as user_id
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		UserID int64  `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.IssueToken(req.Secret, req.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens from the Authorization header, or the
// token query parameter for websocket clients. Browsers reaching /ws with a
// query token are further limited to the hub's allowed origins.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) int64 {
	userID, _ := r.Context().Value(userIDKey).(int64)
	return userID
}

// requireMember rejects gateway tokens on per-user endpoints
func requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r) == auth.GatewayUser {
			writeError(w, http.StatusForbidden, "A member token is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// PlaceLimitOrder reserves funds or shares and queues a conditional order
func (h *Handler) PlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string          `json:"symbol"`
		Side        models.Side     `json:"side"`
		TargetPrice decimal.Decimal `json:"target_price"`
		Quantity    int64           `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.Service.PlaceLimitOrder(r.Context(), userFrom(r), req.Symbol, req.Side, req.TargetPrice, req.Quantity)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetUserOrders lists the requester's pending orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Service.ListOrders(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if orders == nil {
		orders = []models.LimitOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels a pending order and refunds its reservation
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.CancelOrder(r.Context(), orderID, userFrom(r)); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *Handler) PlaceAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string          `json:"symbol"`
		TargetPrice decimal.Decimal `json:"target_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	alert, err := h.Service.PlaceAlert(r.Context(), userFrom(r), req.Symbol, req.TargetPrice)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (h *Handler) GetUserAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Service.ListAlerts(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.PriceAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) RemoveAlert(w http.ResponseWriter, r *http.Request) {
	alertID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.RemoveAlert(r.Context(), alertID, userFrom(r)); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) MarketBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	fill, err := h.Service.MarketBuy(r.Context(), userFrom(r), req.Symbol, req.Quantity)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

func (h *Handler) MarketSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	fill, err := h.Service.MarketSell(r.Context(), userFrom(r), req.Symbol, req.Quantity)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Portfolio(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	user, err := h.Service.Balance(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Quote returns the live price of a symbol
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.Service.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) Watchlist(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.Watchlist(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	watch, err := h.Service.Watch(r.Context(), userFrom(r), req.Symbol)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, watch)
}

func (h *Handler) Unwatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Unwatch(r.Context(), userFrom(r), chi.URLParam(r, "symbol")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Notifications streams notifications over a websocket. A gateway token
// receives every user's notifications.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Notifications disabled")
		return
	}
	h.Hub.Serve(w, r, userFrom(r))
}
