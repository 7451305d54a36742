package handlers

import (
	"net/http"
	"time"

	"github.com/matchpoint-app/matchpoint/repositories"
	"github.com/matchpoint-app/matchpoint/services"
)

type MatchHandler struct {
	matchService *services.MatchService
}

func NewMatchHandler(ms *services.MatchService) *MatchHandler {
	return &MatchHandler{matchService: ms}
}

// List возвращает запланированные матчи. Опциональные query-параметры:
// from, to (RFC 3339) и player_id.
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter repositories.MatchFilter

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}
		filter.From = &from
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}
		filter.To = &to
	}
	if playerIDStr := r.URL.Query().Get("player_id"); playerIDStr != "" {
		playerID, err := parsePositiveInt(playerIDStr, "player_id")
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}
		filter.PlayerID = &playerID
	}

	matches, err := h.matchService.List(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetByID возвращает матч вместе с составом и листом ожидания.
func (h *MatchHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	roster, err := h.matchService.GetWithRoster(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	response := jsonResponse{
		"match":      roster.Match,
		"registered": roster.Registered,
		"waitlist":   roster.Waitlist,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Create создаёт матч; организатор регистрируется автоматически.
func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input services.CreateMatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.Create(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Cancel отменяет матч от имени организатора.
func (h *MatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		OrganizerID int `json:"organizer_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.OrganizerID == 0 {
		badRequestResponse(w, r, errMissingField("organizer_id"))
		return
	}

	match, err := h.matchService.Cancel(r.Context(), matchID, input.OrganizerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Join записывает игрока в матч либо ставит его в лист ожидания.
func (h *MatchHandler) Join(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		PlayerID int `json:"player_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.PlayerID == 0 {
		badRequestResponse(w, r, errMissingField("player_id"))
		return
	}

	registration, err := h.matchService.Join(r.Context(), matchID, input.PlayerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"registration": registration}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Leave убирает игрока из матча; освободившееся место уходит первому в
// листе ожидания.
func (h *MatchHandler) Leave(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		PlayerID int `json:"player_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.PlayerID == 0 {
		badRequestResponse(w, r, errMissingField("player_id"))
		return
	}

	registration, err := h.matchService.Leave(r.Context(), matchID, input.PlayerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	response := jsonResponse{
		"message":      "successfully left match",
		"registration": registration,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
