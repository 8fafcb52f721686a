package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/service"
	"github.com/rl1809/planet-auction/internal/port"
)

type HTTPHandler struct {
	purchases *service.PurchaseService
	seeds     *service.SeedService
	auctions  *service.AuctionService
	cache     port.CacheRepository // optional
	sessions  *Sessions            // optional
}

type RegisterHTTPRequest struct {
	Name string `json:"name"`
}

type PurchaseHTTPRequest struct {
	RequestID  string `json:"request_id"`
	PlayerName string `json:"player_name"`
}

type PurchaseHTTPResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	PlayerID      string `json:"player_id,omitempty"`
	PlayerName    string `json:"player_name,omitempty"`
	PlanetDollars int64  `json:"planet_dollars,omitempty"`
	Planet        string `json:"planet,omitempty"`
	Price         int64  `json:"price,omitempty"`
	Token         string `json:"token,omitempty"`
}

type PlayerHTTPResponse struct {
	PlayerID      string `json:"player_id"`
	PlayerName    string `json:"player_name"`
	PlanetDollars int64  `json:"planet_dollars"`
	Token         string `json:"token,omitempty"`
}

type AuctionHTTPRequest struct {
	Shares            int  `json:"shares"`
	ShowConsoleOutput bool `json:"show_console_output"`
}

type AuctionHTTPResponse struct {
	Requested  int   `json:"requested"`
	Purchased  int   `json:"purchased"`
	Failed     int   `json:"failed"`
	NoMatch    int   `json:"no_match"`
	StaleMatch int   `json:"stale_match"`
	Transient  int   `json:"transient"`
	Fatal      int   `json:"fatal"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

type StatsHTTPResponse struct {
	Runs      int64  `json:"runs"`
	Requested int64  `json:"requested"`
	Purchased int64  `json:"purchased"`
	Failed    int64  `json:"failed"`
	LastRun   string `json:"last_run,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(purchases *service.PurchaseService, seeds *service.SeedService, auctions *service.AuctionService,
	cache port.CacheRepository, sessions *Sessions) *HTTPHandler {
	return &HTTPHandler{
		purchases: purchases,
		seeds:     seeds,
		auctions:  auctions,
		cache:     cache,
		sessions:  sessions,
	}
}

// Routes returns the API router, without rate limiting or CORS.
func (h *HTTPHandler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/players", h.RegisterPlayer).Methods(http.MethodPost)
	api.HandleFunc("/purchase", h.Purchase).Methods(http.MethodPost)
	api.HandleFunc("/auctions", h.RunAuction).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	return r
}

func (h *HTTPHandler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	player, err := h.seeds.RegisterPlayer(r.Context(), req.Name)
	if err != nil {
		log.WithError(err).Error("register player failed")
		writeJSON(w, statusFor(err), ErrorResponse{Message: service.StatusMessage(err)})
		return
	}

	resp := PlayerHTTPResponse{
		PlayerID:      player.ID,
		PlayerName:    player.Name,
		PlanetDollars: player.PlanetDollars,
	}
	if h.sessions != nil {
		token, err := h.sessions.Issue(player)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
			return
		}
		resp.Token = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Purchase buys one share for the session's player, or for a new player
// registered on the spot when there is no session.
func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PurchaseHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	purchase := service.PurchaseRequest{RequestID: req.RequestID, PlayerName: req.PlayerName}
	if token := bearerToken(r); token != "" {
		if h.sessions == nil {
			writeJSON(w, http.StatusUnauthorized, PurchaseHTTPResponse{Message: "sessions are disabled"})
			return
		}
		claims, err := h.sessions.Parse(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, PurchaseHTTPResponse{Message: "invalid session"})
			return
		}
		purchase.PlayerID = claims.Subject
	}

	result, err := h.purchases.Purchase(r.Context(), purchase)
	resp := PurchaseHTTPResponse{
		PlayerID:   result.Player.ID,
		PlayerName: result.Player.Name,
	}
	if result.Registered && h.sessions != nil {
		if token, terr := h.sessions.Issue(result.Player); terr == nil {
			resp.Token = token
		}
	}

	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.WithError(err).Error("purchase failed")
		}
		resp.Message = service.StatusMessage(err)
		writeJSON(w, status, resp)
		return
	}

	resp.Success = true
	resp.Message = result.Status
	resp.PlanetDollars = result.Player.PlanetDollars
	resp.Planet = result.Settlement.Match.Planet.Name
	resp.Price = result.Settlement.Price
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) RunAuction(w http.ResponseWriter, r *http.Request) {
	var req AuctionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	report, err := h.auctions.RunAuction(r.Context(), req.Shares, req.ShowConsoleOutput)
	if err != nil {
		writeJSON(w, statusFor(err), ErrorResponse{Message: err.Error()})
		return
	}

	if h.cache != nil {
		if err := h.cache.RecordAuction(r.Context(), report); err != nil {
			log.WithError(err).Warn("failed to record auction stats")
		}
	}
	writeJSON(w, http.StatusOK, auctionResponse(report))
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "stats require Redis"})
		return
	}

	stats, err := h.cache.AuctionStats(r.Context())
	if err != nil {
		log.WithError(err).Error("read auction stats failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	resp := StatsHTTPResponse{
		Runs:      stats.Runs,
		Requested: stats.Requested,
		Purchased: stats.Purchased,
		Failed:    stats.Failed,
	}
	if !stats.LastRun.IsZero() {
		resp.LastRun = stats.LastRun.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func auctionResponse(report domain.AuctionReport) AuctionHTTPResponse {
	return AuctionHTTPResponse{
		Requested:  report.Requested,
		Purchased:  report.Purchased,
		Failed:     report.Failed,
		NoMatch:    report.NoMatch,
		StaleMatch: report.StaleMatch,
		Transient:  report.Transient,
		Fatal:      report.Fatal,
		ElapsedMS:  report.Elapsed.Milliseconds(),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrNoPlanetAvailable),
		errors.Is(err, service.ErrStaleMatch),
		errors.Is(err, service.ErrInvalidMatch):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidShareCount):
		return http.StatusBadRequest
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
