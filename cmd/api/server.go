package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealflow/addressing"
	"dealflow/auth"
	"dealflow/deal"
	"dealflow/dispatch"
	"dealflow/keyexchange"
	"dealflow/ledger"
	"dealflow/listing"
	"dealflow/participant"
	"dealflow/timeline"
)

type ctxKey string

const ctxKeyParticipantID ctxKey = "participant_id"

// authService abstracts the auth layer for handler tests.
type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*participant.Participant, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, error)
}

// commander abstracts the dispatcher for handler tests.
type commander interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (any, error)
}

// summaryService abstracts the listing read model for handler tests.
type summaryService interface {
	GetByID(ctx context.Context, id string) (listing.Summary, error)
	Open(ctx context.Context, kind deal.Kind, limit int) ([]listing.Summary, error)
	ByParticipant(ctx context.Context, participantID string, limit int) ([]listing.Summary, error)
}

// eventReader abstracts the timeline read side for handler tests.
type eventReader interface {
	List(ctx context.Context, dealID string) ([]timeline.Event, error)
}

// Server routes HTTP requests into the service layer.
type Server struct {
	authService    authService
	dispatcher     commander
	listingService summaryService
	events         eventReader
}

// Handler builds the request mux with auth middleware on protected routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/deals/commands", s.requireAuth(s.handleCommand))
	mux.HandleFunc("/api/deals", s.handleDeals)
	mux.HandleFunc("/api/deals/", s.handleDealDetail)
	mux.HandleFunc("/api/me/deals", s.requireAuth(s.handleMyDeals))
	return mux
}

// requireAuth verifies the bearer token and stashes the participant id in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		participantID, err := s.authService.VerifyToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyParticipantID, participantID)
		next(w, r.WithContext(ctx))
	}
}

type participantResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	AccountRef string `json:"accountRef"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

func toParticipantResponse(p participant.Participant) participantResponse {
	return participantResponse{
		ID:         p.ID,
		Username:   p.Username,
		AccountRef: p.AccountRef,
		Status:     string(p.Status),
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantResponse(*p))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":         result.Token,
		"participantId": result.Participant.ID,
		"username":      result.Participant.Username,
	})
}

// handleCommand accepts one lifecycle command. The actor is always the
// authenticated participant; a client cannot act on someone else's behalf.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var cmd dispatch.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd.ActorID, _ = r.Context().Value(ctxKeyParticipantID).(string)

	result, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommandResponse(result))
}

type dealResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	InitiatorID string `json:"initiatorId"`
	AcceptorID  string `json:"acceptorId,omitempty"`
	GoodsName   string `json:"goodsName"`
	Payment     int64  `json:"payment"`
	Insurance   int64  `json:"insurance"`
	ScheduledAt string `json:"scheduledAt"`
}

func toDealResponse(d *deal.Deal) dealResponse {
	resp := dealResponse{
		ID:          d.ID,
		Kind:        string(d.Kind),
		Status:      string(d.Status),
		InitiatorID: d.InitiatorID,
		GoodsName:   d.GoodsName,
		Payment:     d.Payment,
		Insurance:   d.Insurance,
		ScheduledAt: d.ScheduledAt.Format(time.RFC3339),
	}
	if d.AcceptorID != nil {
		resp.AcceptorID = *d.AcceptorID
	}
	return resp
}

// toCommandResponse shapes dispatcher results. Accept carries the issued
// secrets exactly once; they are never readable again.
func toCommandResponse(result any) any {
	switch v := result.(type) {
	case *deal.Deal:
		return map[string]any{"deal": toDealResponse(v)}
	case deal.AcceptResult:
		return map[string]any{"deal": toDealResponse(v.Deal), "secrets": v.Secrets}
	default:
		return map[string]any{}
	}
}

type summaryResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	InitiatorID string `json:"initiatorId"`
	GoodsName   string `json:"goodsName"`
	Quantity    int    `json:"quantity,omitempty"`
	Payment     int64  `json:"payment"`
	Insurance   int64  `json:"insurance"`
	ScheduledAt string `json:"scheduledAt"`
	CreatedAt   string `json:"createdAt"`
}

func toSummaryResponse(s listing.Summary) summaryResponse {
	return summaryResponse{
		ID:          s.ID,
		Kind:        string(s.Kind),
		Status:      string(s.Status),
		InitiatorID: s.InitiatorID,
		GoodsName:   s.GoodsName,
		Quantity:    s.Quantity,
		Payment:     s.Payment,
		Insurance:   s.Insurance,
		ScheduledAt: s.ScheduledAt.Format(time.RFC3339),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	kind := deal.Kind(r.URL.Query().Get("kind"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	summaries, err := s.listingService.Open(r.Context(), kind, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]summaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, toSummaryResponse(sum))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleDealDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/deals/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "deal id required")
		return
	}

	switch sub {
	case "":
		summary, err := s.listingService.GetByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSummaryResponse(summary))
	case "events":
		events, err := s.events.List(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events})
	default:
		writeJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleMyDeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	participantID, _ := r.Context().Value(ctxKeyParticipantID).(string)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	summaries, err := s.listingService.ByParticipant(r.Context(), participantID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]summaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, toSummaryResponse(sum))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnhandledInstruction),
		errors.Is(err, deal.ErrInvalidTerms),
		errors.Is(err, deal.ErrSerialization),
		errors.Is(err, addressing.ErrDerivationFailed),
		errors.Is(err, auth.ErrWeakPassword):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, keyexchange.ErrKeyMismatch),
		errors.Is(err, keyexchange.ErrKeyConsumed),
		errors.Is(err, keyexchange.ErrKeyNotIssued):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, deal.ErrNotFound),
		errors.Is(err, listing.ErrNotFound),
		errors.Is(err, participant.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, deal.ErrIncorrectState),
		errors.Is(err, deal.ErrOperationNotAllowed),
		errors.Is(err, participant.ErrVersionConflict),
		errors.Is(err, auth.ErrDuplicateUsername):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deal.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
