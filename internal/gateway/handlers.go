package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/auth"
	"beuhouse-backend/internal/content"
	"beuhouse-backend/internal/marketdata/coingecko"
	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/simulator"
)

// MarketAPI is the slice of the gateway client the on-demand endpoints use.
// The markets list itself always comes from the hub's last poll, never from
// a per-request upstream call.
type MarketAPI interface {
	Trending(ctx context.Context) ([]model.Coin, error)
	Detail(ctx context.Context, id string) (model.CoinDetail, error)
	MarketChart(ctx context.Context, id string, days int) ([]model.PricePoint, error)
}

// Handlers bundles the services behind the REST API.
type Handlers struct {
	Hub      *Hub
	Sessions *Sessions
	Market   MarketAPI
	Auth     *auth.Service
	Content  *content.Service

	// OnSimOp is an optional metrics hook called after every simulator
	// operation with its outcome.
	OnSimOp func(op string, err error)
}

func (h *Handlers) simOp(op string, err error) {
	if h.OnSimOp != nil {
		h.OnSimOp(op, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] response encode: %v", err)
	}
}

type errorBody struct {
	Error        string `json:"error"`
	TOTPRequired bool   `json:"totp_required,omitempty"`
}

// writeError maps service errors onto HTTP statuses: malformed input is 400,
// a precondition violated by current state is 422, missing things are 404.
func writeError(w http.ResponseWriter, err error) {
	var (
		simVal     *simulator.ValidationError
		simOp      *simulator.InvalidOperationError
		simMissing *simulator.NotFoundError
		authVal    *auth.ValidationError
		contentVal *content.ValidationError
		upstream   *coingecko.StatusError
	)
	switch {
	case errors.As(err, &simVal), errors.As(err, &authVal), errors.As(err, &contentVal):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &simOp):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.As(err, &simMissing), errors.Is(err, content.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, auth.ErrTOTPRequired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), TOTPRequired: true})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTOTPInvalid), errors.Is(err, auth.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case errors.Is(err, auth.ErrUserExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &upstream) && upstream.Code == http.StatusNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "coin not found"})
	default:
		log.Printf("[api] internal error: %v", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream or internal failure"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body"})
		return false
	}
	return true
}

// ---- market data ----

type marketsResponse struct {
	Coins     []model.Coin `json:"coins"`
	Stale     bool         `json:"stale"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (h *Handlers) Markets(w http.ResponseWriter, r *http.Request) {
	coins, stale, at := h.Hub.Snapshot()
	if coins == nil {
		coins = []model.Coin{}
	}
	writeJSON(w, http.StatusOK, marketsResponse{Coins: coins, Stale: stale, UpdatedAt: at})
}

func (h *Handlers) Trending(w http.ResponseWriter, r *http.Request) {
	coins, err := h.Market.Trending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coins": coins})
}

func (h *Handlers) CoinDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Market.Detail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handlers) CoinHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "days must be 1-365"})
			return
		}
		days = n
	}
	points, err := h.Market.MarketChart(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": points})
}

func (h *Handlers) CoinObserved(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	points := h.Hub.Observed(id)
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": points})
}

// ---- simulator ----

func (h *Handlers) SimPortfolio(w http.ResponseWriter, r *http.Request) {
	p := h.Sessions.Portfolio(w, r)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *Handlers) SimSetInitial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p := h.Sessions.Portfolio(w, r)
	err := p.SetInitialInvestment(req.Amount)
	h.simOp("initial", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *Handlers) SimBuy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CoinID string          `json:"coin_id"`
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p := h.Sessions.Portfolio(w, r)
	err := p.Buy(req.CoinID, req.Amount)
	h.simOp("buy", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *Handlers) SimSell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CoinID     string           `json:"coin_id"`
		Percentage *decimal.Decimal `json:"percentage"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pct := decimal.NewFromInt(100)
	if req.Percentage != nil {
		pct = *req.Percentage
	}
	p := h.Sessions.Portfolio(w, r)
	err := p.Sell(req.CoinID, pct)
	h.simOp("sell", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *Handlers) SimReset(w http.ResponseWriter, r *http.Request) {
	p := h.Sessions.Portfolio(w, r)
	p.Reset()
	h.simOp("reset", nil)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// ---- auth ----

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.Auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, u, err := h.Auth.Login(r.Context(), req.Username, req.Password, req.TOTPCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
}

func (h *Handlers) TOTPBegin(w http.ResponseWriter, r *http.Request) {
	secret, url, err := h.Auth.BeginTOTP(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": secret, "otpauth_url": url})
}

func (h *Handlers) TOTPConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Auth.ConfirmTOTP(r.Context(), auth.UserID(r.Context()), req.Secret, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true})
}

func (h *Handlers) TOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Auth.DisableTOTP(r.Context(), auth.UserID(r.Context()), req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
}

// ---- content ----

func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	posts, err := h.Content.List(r.Context(), chi.URLParam(r, "section"), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid post id"})
		return
	}
	p, err := h.Content.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.Content.Create(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "section"), req.Title, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid post id"})
		return
	}
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.Content.Update(r.Context(), id, auth.UserID(r.Context()), req.Title, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid post id"})
		return
	}
	if err := h.Content.Delete(r.Context(), id, auth.UserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
