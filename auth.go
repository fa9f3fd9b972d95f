package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
)

const sessionCookieName = "onenight_session"

func generateSecretCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func setSessionCookie(w http.ResponseWriter, playerID int64) error {
	tokenBig, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return err
	}
	token := tokenBig.Int64()

	if _, err := db.Exec("INSERT INTO session (token, player_id) VALUES (?, ?)", token, playerID); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    strconv.FormatInt(token, 10),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func getPlayerIdFromSession(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return -1, err
	}

	token, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil {
		return -1, err
	}

	var playerID int64
	err = db.Get(&playerID, "SELECT player_id FROM session WHERE token = ?", token)
	if err != nil {
		return -1, err
	}

	return playerID, nil
}

// currentPlayer resolves the request's cookie to a game identity
func currentPlayer(r *http.Request) (Player, error) {
	playerID, err := getPlayerIdFromSession(r)
	if err != nil {
		return Player{}, err
	}
	account, err := getAccountByID(playerID)
	if err != nil {
		return Player{}, err
	}
	return account.Player(), nil
}

// accountResponse is returned by signup and login
type accountResponse struct {
	PlayerID   PlayerID `json:"player_id"`
	Name       string   `json:"name"`
	SecretCode string   `json:"secret_code,omitempty"`
}

func handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeErrorJSON(w, http.StatusBadRequest, "Name is required")
		return
	}

	var existing Account
	err := db.Get(&existing, "SELECT rowid as id, name, secret_code FROM player WHERE name = ?", name)
	if err == nil {
		writeErrorJSON(w, http.StatusConflict, "Name already taken. Use login with secret code if this is you.")
		return
	}
	if err != sql.ErrNoRows {
		logError("handleSignup: db.Get player", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	secretCode, err := generateSecretCode()
	if err != nil {
		logError("handleSignup: generateSecretCode", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	result, err := db.Exec("INSERT INTO player (name, secret_code) VALUES (?, ?)", name, secretCode)
	if err != nil {
		logError("handleSignup: db.Exec insert player", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	playerID, _ := result.LastInsertId()
	log.Printf("New player created: name='%s', id=%d", name, playerID)
	DebugLog("handleSignup: player '%s' signed up with ID %d", name, playerID)
	LogDBState("after signup: " + name)

	if err := setSessionCookie(w, playerID); err != nil {
		logError("handleSignup: setSessionCookie", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	account := Account{ID: playerID, Name: name, SecretCode: secretCode}
	writeJSON(w, http.StatusCreated, accountResponse{PlayerID: account.Player().ID, Name: name, SecretCode: secretCode})
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	secretCode := r.FormValue("secret_code")

	if name == "" || secretCode == "" {
		writeErrorJSON(w, http.StatusBadRequest, "Name and secret code are required")
		return
	}

	var account Account
	err := db.Get(&account, "SELECT rowid as id, name, secret_code FROM player WHERE name = ? AND secret_code = ?", name, secretCode)
	if err == sql.ErrNoRows {
		writeErrorJSON(w, http.StatusUnauthorized, "Invalid name or secret code")
		return
	}
	if err != nil {
		logError("handleLogin: db.Get player", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	log.Printf("Player logged in: name='%s', id=%d", name, account.ID)
	if err := setSessionCookie(w, account.ID); err != nil {
		logError("handleLogin: setSessionCookie", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{PlayerID: account.Player().ID, Name: account.Name})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	playerID, _ := getPlayerIdFromSession(r)
	playerName := getPlayerName(playerID)

	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		token, _ := strconv.ParseInt(cookie.Value, 10, 64)
		db.Exec("DELETE FROM session WHERE token = ?", token)
	}

	log.Printf("Player logged out: name='%s', id=%d", playerName, playerID)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}
