package handlers

import (
	"net/http"

	"github.com/matchpoint-app/matchpoint/services"
)

type EmailHandler struct {
	notificationService *services.NotificationService
}

func NewEmailHandler(ns *services.NotificationService) *EmailHandler {
	return &EmailHandler{notificationService: ns}
}

// Send рассылает произвольное сообщение выбранным игрокам.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var input services.BulkEmailInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	sent, err := h.notificationService.SendCustomEmail(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"sent": sent}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
