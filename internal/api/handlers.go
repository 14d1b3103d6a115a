// Package api provides the HTTP handlers for operating rounds, placing
// wagers, claiming payouts and querying the ledger.
//
// All credit amounts are unsigned base units; display amounts use
// shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/updown/round-engine/internal/engine"
	"github.com/updown/round-engine/internal/migration"
	"github.com/updown/round-engine/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Handler serves the engine over HTTP.
type Handler struct {
	svc      *engine.Service
	validate *validator.Validate
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Routes mounts every endpoint on r. hub may be nil.
func (h *Handler) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Post("/config", h.InitConfig)
	r.Get("/config", h.GetConfig)

	r.Post("/participants", h.Register)
	r.Get("/participants/{owner}", h.GetParticipant)
	r.Get("/participants/{owner}/claimable", h.ClaimableRounds)

	r.Post("/rounds", h.OpenRound)
	r.Get("/rounds", h.ListRounds)
	r.Get("/rounds/{roundID}", h.GetRound)
	r.Post("/rounds/{roundID}/handoff", h.Handoff)
	r.Post("/rounds/{roundID}/handback", h.Handback)
	r.Post("/rounds/{roundID}/lock", h.LockRound)
	r.Post("/rounds/{roundID}/settle", h.SettleRound)
	r.Post("/rounds/{roundID}/wagers", h.PlaceWager)
	r.Post("/rounds/{roundID}/claim", h.Claim)
}

// --- Request/Response types ---

// InitConfigRequest is the JSON body for POST /config.
type InitConfigRequest struct {
	Operator string  `json:"operator" validate:"required"`
	FeeBps   *uint16 `json:"fee_bps" validate:"required"`
}

// OperatorRequest is the JSON body for operator-only round commands.
type OperatorRequest struct {
	Operator string `json:"operator" validate:"required"`
}

// RegisterRequest is the JSON body for POST /participants.
type RegisterRequest struct {
	Owner string `json:"owner" validate:"required"`
}

// WagerRequest is the JSON body for POST /rounds/{roundID}/wagers.
// A zero amount passes validation so the engine reports invalid_amount.
type WagerRequest struct {
	Owner     string `json:"owner" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=up down UP DOWN"`
	Amount    uint64 `json:"amount"`
}

// ClaimRequest is the JSON body for POST /rounds/{roundID}/claim.
type ClaimRequest struct {
	Owner string `json:"owner" validate:"required"`
}

// RoundView is a round plus the environment currently holding it.
type RoundView struct {
	*model.Round
	Environment migration.Environment `json:"environment"`
}

// ParticipantView adds a display balance to the ledger record.
type ParticipantView struct {
	*model.Participant
	Balance decimal.Decimal `json:"balance"`
}

// WagerResponse is returned from POST /rounds/{roundID}/wagers.
type WagerResponse struct {
	Round       RoundView       `json:"round"`
	Participant ParticipantView `json:"participant"`
}

func (h *Handler) roundView(r *model.Round) RoundView {
	return RoundView{Round: r, Environment: h.svc.Environment(r.ID)}
}

func participantView(p *model.Participant) ParticipantView {
	return ParticipantView{Participant: p, Balance: model.Credits(p.Credits)}
}

// --- Config & participants ---

// InitConfig handles POST /api/v1/config
func (h *Handler) InitConfig(w http.ResponseWriter, r *http.Request) {
	var req InitConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.InitConfig(r.Context(), req.Operator, *req.FeeBps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Register handles POST /api/v1/participants
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.svc.Register(r.Context(), req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participantView(p))
}

// GetParticipant handles GET /api/v1/participants/{owner}
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetParticipant(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantView(p))
}

// ClaimableRounds handles GET /api/v1/participants/{owner}/claimable
func (h *Handler) ClaimableRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.svc.ClaimableRounds(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.roundViews(rounds))
}

// --- Rounds ---

// OpenRound handles POST /api/v1/rounds
func (h *Handler) OpenRound(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	rd, err := h.svc.OpenRound(r.Context(), req.Operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.roundView(rd))
}

// ListRounds handles GET /api/v1/rounds
// Returns recent rounds newest first, bounded by ?limit=n.
func (h *Handler) ListRounds(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	rounds, err := h.svc.ListRounds(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.roundViews(rounds))
}

// GetRound handles GET /api/v1/rounds/{roundID}
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	rd, err := h.svc.GetRound(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.roundView(rd))
}

// Handoff handles POST /api/v1/rounds/{roundID}/handoff
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	h.operatorCommand(w, r, h.svc.Handoff)
}

// Handback handles POST /api/v1/rounds/{roundID}/handback
func (h *Handler) Handback(w http.ResponseWriter, r *http.Request) {
	h.operatorCommand(w, r, h.svc.Handback)
}

// LockRound handles POST /api/v1/rounds/{roundID}/lock
func (h *Handler) LockRound(w http.ResponseWriter, r *http.Request) {
	h.operatorCommand(w, r, h.svc.LockRound)
}

// SettleRound handles POST /api/v1/rounds/{roundID}/settle
func (h *Handler) SettleRound(w http.ResponseWriter, r *http.Request) {
	h.operatorCommand(w, r, h.svc.SettleRound)
}

// PlaceWager handles POST /api/v1/rounds/{roundID}/wagers
func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	var req WagerRequest
	if !h.decode(w, r, &req) {
		return
	}
	dir, err := model.ParseDirection(req.Direction)
	if err != nil {
		writeBadRequest(w, "direction must be up or down")
		return
	}

	rd, p, err := h.svc.PlaceWager(r.Context(), id, req.Owner, dir, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WagerResponse{Round: h.roundView(rd), Participant: participantView(p)})
}

// Claim handles POST /api/v1/rounds/{roundID}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	rc, err := h.svc.Claim(r.Context(), id, req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// --- helpers ---

// roundCommand is an operator-only engine command on one round.
type roundCommand func(ctx context.Context, caller string, id uint64) (*model.Round, error)

func (h *Handler) operatorCommand(w http.ResponseWriter, r *http.Request, cmd roundCommand) {
	id, ok := roundID(w, r)
	if !ok {
		return
	}
	var req OperatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	rd, err := cmd(r.Context(), req.Operator, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.roundView(rd))
}

func (h *Handler) roundViews(rounds []model.Round) []RoundView {
	views := make([]RoundView, len(rounds))
	for i := range rounds {
		views[i] = h.roundView(&rounds[i])
	}
	return views
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeBadRequest(w, verrs[0].Field()+" failed "+verrs[0].Tag()+" validation")
			return false
		}
		writeBadRequest(w, err.Error())
		return false
	}
	return true
}

func roundID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "round id must be an unsigned integer")
		return 0, false
	}
	return id, true
}
