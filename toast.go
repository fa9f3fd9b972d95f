package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
)

// Toast is a notification shown to a single player
type Toast struct {
	Type    string    `json:"type"` // always "toast"
	ID      int64     `json:"id"`
	Level   string    `json:"level"` // "error", "warning", "success", "info"
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
}

var toastCounter atomic.Int64

func newToast(level, message string) Toast {
	return Toast{Type: "toast", ID: toastCounter.Add(1), Level: level, Message: message}
}

// errorToast keeps the kind of game errors so clients can localize them
func errorToast(err error) Toast {
	t := newToast("error", err.Error())
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		t.Kind = gameErr.Kind
	}
	return t
}

// sendErrorToast sends an error toast to a specific player via WebSocket
func sendErrorToast(playerID PlayerID, err error) {
	hub.sendJSONToPlayer(playerID, errorToast(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encode failed: %v", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, newToast("error", message))
}
