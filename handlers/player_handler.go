package handlers

import (
	"net/http"

	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/repositories"
	"github.com/matchpoint-app/matchpoint/services"
)

const maxAvatarBytes = 5 << 20 // 5MB

type PlayerHandler struct {
	playerService *services.PlayerService
	matchService  *services.MatchService
}

func NewPlayerHandler(ps *services.PlayerService, ms *services.MatchService) *PlayerHandler {
	return &PlayerHandler{playerService: ps, matchService: ms}
}

// List возвращает всех активных игроков.
func (h *PlayerHandler) List(w http.ResponseWriter, r *http.Request) {
	players, err := h.playerService.ListActive(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"players": players}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetProfile возвращает профиль игрока.
func (h *PlayerHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	player, err := h.playerService.GetByID(r.Context(), playerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UpdateProfile редактирует разрешённые поля профиля.
func (h *PlayerHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Name             *string  `json:"name"`
		Email            *string  `json:"email"`
		Phone            *string  `json:"phone"`
		Gender           *string  `json:"gender"`
		Address          *string  `json:"address"`
		NTRPLevel        *float64 `json:"ntrp_level"`
		NotificationPref *string  `json:"notification_preference"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	upd := repositories.PlayerUpdate{
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		Gender:    input.Gender,
		Address:   input.Address,
		NTRPLevel: input.NTRPLevel,
	}
	if input.NotificationPref != nil {
		pref := models.NotificationPref(*input.NotificationPref)
		upd.NotificationPref = &pref
	}

	player, err := h.playerService.UpdateProfile(r.Context(), playerID, upd)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetMatches возвращает матчи, в которых игрок участвует или ждёт места.
func (h *PlayerHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.matchService.ListForPlayer(r.Context(), playerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UploadAvatar принимает multipart-форму с файлом аватара.
func (h *PlayerHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	defer file.Close()

	player, err := h.playerService.UploadAvatar(r.Context(), playerID, header.Header.Get("Content-Type"), file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"player": player}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
