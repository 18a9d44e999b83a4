package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Query answers a question from the session's ingested content.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	sessionID := sessionKey(r)

	resp, err := h.chat.Answer(r.Context(), sessionID, message)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, ve.Reason, http.StatusBadRequest)
			return
		}
		log.Printf("chat: answer for session %s: %v", sessionID, err)
		http.Error(w, "failed to answer, try again", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
