package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage represents a message from the client
type WSMessage struct {
	Action         string `json:"action"`
	SessionID      string `json:"session_id,omitempty"`
	TargetPlayerID string `json:"target_player_id,omitempty"`
}

// wsActions maps client actions onto area commands
var wsActions = map[string]CommandType{
	"join_game":    CommandJoinGame,
	"leave_game":   CommandLeaveGame,
	"cast_vote":    CommandCastVote,
	"assign_roles": CommandAssignRoles,
}

// stateMessage carries a snapshot to one client
type stateMessage struct {
	Type string `json:"type"` // "state"
	AreaSnapshot
}

// resultMessage answers a successful command
type resultMessage struct {
	Type   string        `json:"type"` // "result"
	Action string        `json:"action"`
	Result CommandResult `json:"result"`
}

// Client represents a websocket connection with player info
type Client struct {
	conn    *websocket.Conn
	player  Player
	area    string
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks every connection and pushes area state to them
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// start counts the run loop before launching it so stop can wait on it
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

var hub = newHub()

func (h *Hub) sendJSONToPlayer(playerID PlayerID, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.player.ID != playerID {
			continue
		}
		if appLogger != nil && appLogger.logWS {
			if payload, err := json.Marshal(v); err != nil {
				log.Printf("WebSocket marshal error for player %s: %v", playerID, err)
			} else {
				LogWSMessage("OUT", client.player.Name, string(payload))
			}
		}
		if err := client.writeJSON(v); err != nil {
			log.Printf("WebSocket write error to player %s: %v", playerID, err)
		}
	}
}

// broadcastArea sends each client in the area its own snapshot
func (h *Hub) broadcastArea(area *SessionArea) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.clients {
		if client.area != area.Name() {
			continue
		}
		n++
		msg := stateMessage{Type: "state", AreaSnapshot: area.Snapshot(client.player.ID)}
		if err := client.writeJSON(msg); err != nil {
			log.Printf("WebSocket write error to player %s: %v", client.player.ID, err)
		}
	}
	DebugLog("hub.broadcastArea: pushed area %s to %d clients", area.Name(), n)
}

// broadcastJSON sends the same message to every client in an area
func (h *Hub) broadcastJSON(areaName string, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.area != areaName {
			continue
		}
		if err := client.writeJSON(v); err != nil {
			log.Printf("WebSocket write error to player %s: %v", client.player.ID, err)
		}
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (player %s: %s, area %s). Total: %d", client.player.ID, client.player.Name, client.area, total)

			area := areas.Get(client.area)
			msg := stateMessage{Type: "state", AreaSnapshot: area.Snapshot(client.player.ID)}
			if err := client.writeJSON(msg); err != nil {
				log.Printf("WebSocket write error to player %s: %v", client.player.ID, err)
			}

		case conn := <-h.unregister:
			var leaving *Client
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()

				// Check if player has any remaining connections in the same area
				hasOtherConn := false
				for _, c := range h.clients {
					if c.player.ID == client.player.ID && c.area == client.area {
						hasOtherConn = true
						break
					}
				}
				if !hasOtherConn {
					leaving = client
				} else {
					DebugLog("hub.unregister: player %s still has other connections", client.player.ID)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)
			// Leave after releasing the mutex, the change hook broadcasts
			if leaving != nil {
				leaveOnDisconnect(leaving)
			}
		}
	}
}

// leaveOnDisconnect takes a seated player out of the area's session
func leaveOnDisconnect(client *Client) {
	area := areas.Get(client.area)
	game := area.ActiveSession()
	if game == nil || !game.IsPlayerInGame(client.player.ID) {
		return
	}
	cmd := Command{Type: CommandLeaveGame, SessionID: game.ID()}
	if _, err := area.Handle(cmd, client.player); err != nil {
		DebugLog("leaveOnDisconnect: player %s: %v", client.player.ID, err)
		return
	}
	log.Printf("Player %s (%s) left area %s (disconnected)", client.player.ID, client.player.Name, client.area)
}

func handleWSMessage(client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for player %s: %v", client.player.ID, err)
		return
	}
	LogWSMessage("IN", client.player.Name, string(message))

	cmdType, ok := wsActions[msg.Action]
	if !ok {
		// The area rejects anything it doesn't know
		cmdType = CommandType(msg.Action)
	}
	cmd := Command{
		Type:      cmdType,
		SessionID: msg.SessionID,
		Target:    PlayerID(msg.TargetPlayerID),
	}

	area := areas.Get(client.area)
	result, err := area.Handle(cmd, client.player)
	if err != nil {
		log.Printf("Action %s from player %s in area %s failed: %v", msg.Action, client.player.ID, client.area, err)
		sendErrorToast(client.player.ID, err)
		return
	}
	if err := client.writeJSON(resultMessage{Type: "result", Action: msg.Action, Result: result}); err != nil {
		log.Printf("WebSocket write error to player %s: %v", client.player.ID, err)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Capture the hub at entry to avoid race conditions in parallel tests
	currentHub := hub

	player, err := currentPlayer(r)
	if err != nil {
		DebugLog("handleWebSocket: rejected connection - not logged in")
		http.Error(w, "Not logged in", http.StatusUnauthorized)
		return
	}
	areaName := areaFromRequest(r)

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for player %s (%s): %v", player.ID, player.Name, err)
		return
	}

	client := &Client{conn: conn, player: player, area: areaName}
	currentHub.register <- client

	go func() {
		defer func() {
			currentHub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			handleWSMessage(client, message)
		}
	}()
}
