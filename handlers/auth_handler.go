package handlers

import (
	"net/http"

	"github.com/matchpoint-app/matchpoint/services"
)

// AuthHandler обслуживает "вход" без пароля: идентификация — это поиск игрока
// по ключу phone_or_email. Токены не выдаются.
type AuthHandler struct {
	playerService *services.PlayerService
}

func NewAuthHandler(ps *services.PlayerService) *AuthHandler {
	return &AuthHandler{playerService: ps}
}

// Login ищет игрока по phone_or_email; 404 означает "сначала зарегистрируйтесь".
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		PhoneOrEmail string `json:"phone_or_email"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	player, err := h.playerService.Lookup(r.Context(), input.PhoneOrEmail)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Register создаёт нового игрока по ключу идентификации.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input services.RegisterPlayerInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	player, err := h.playerService.Register(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// DeleteAccount мягко удаляет игрока.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var input struct {
		PlayerID int `json:"player_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.playerService.Delete(r.Context(), input.PlayerID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": "account deleted successfully"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
