package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
)

// ============================================================================
// Test-specific logger
// ============================================================================

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from environment variables
func NewTestLogger(t *testing.T) *TestLogger {
	al, err := NewAppLogger(LogConfig{
		OutputDir:   os.Getenv("TEST_OUTPUT_DIR"),
		LogRequests: os.Getenv("TEST_LOG_REQUESTS") == "1",
		LogDB:       os.Getenv("TEST_LOG_DB") == "1",
		LogWS:       os.Getenv("TEST_LOG_WS") == "1",
		Debug:       os.Getenv("TEST_DEBUG") == "1",
	})
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	// Server-side DebugLog calls land in the test output
	al.logf = t.Logf
	return &TestLogger{AppLogger: al, t: t}
}

// ============================================================================
// Test server
// ============================================================================

func getFreePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// newTestDB opens a fresh SQLite file for the test and installs it as the
// global db
func newTestDB(t *testing.T) *sqlx.DB {
	dbPath := filepath.Join(t.TempDir(), "onenight_test.db")
	testDB, err := sqlx.Connect("sqlite3",
		fmt.Sprintf("file:%s?_busy_timeout=5000&_synchronous=NORMAL&_txlock=deferred", dbPath))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	db = testDB
	if err := initDB(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return testDB
}

// TestContext holds test infrastructure including logger and isolated resources
type TestContext struct {
	t       *testing.T
	logger  *TestLogger
	baseURL string
	wsURL   string
	cleanup func()
	db      *sqlx.DB
	hub     *Hub
}

// newTestContext starts a server on a free port with its own database,
// hub and area registry
func newTestContext(t *testing.T, opts AreaOptions) *TestContext {
	logger := NewTestLogger(t)
	appLogger = logger.AppLogger
	globalStoryteller = nil

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	testDB := newTestDB(t)
	logger.LogDB("after initDB")

	testHub := newHub()
	testHub.start()
	hub = testHub

	resultStore = newSQLResultStore(testDB)
	areas = NewAreaRegistry(newAreaFactory(opts, resultStore))

	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: newMux(logger.AppLogger),
	}
	go server.ListenAndServe()

	// Wait for the listener
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", server.Addr)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			logger.LogDB("before cleanup")
			server.Close()
			testHub.stop()
			logger.Close()
			appLogger = nil
		})
	}
	t.Cleanup(cleanup)

	return &TestContext{
		t:       t,
		logger:  logger,
		baseURL: "http://" + server.Addr,
		wsURL:   "ws://" + server.Addr,
		cleanup: cleanup,
		db:      testDB,
		hub:     testHub,
	}
}

// ============================================================================
// Test players
// ============================================================================

const wsTimeout = 3 * time.Second

// TestPlayer is a signed-up player with an open WebSocket
type TestPlayer struct {
	t      *testing.T
	logger *TestLogger
	Name   string
	ID     PlayerID
	client *http.Client
	conn   *websocket.Conn
}

// wsEnvelope holds any server message; Type picks which fields are set
type wsEnvelope struct {
	Type string `json:"type"`
	raw  []byte
}

func (e wsEnvelope) decode(v any) {
	json.Unmarshal(e.raw, v)
}

// signupPlayer creates an account and returns a player with a cookie jar
func (ctx *TestContext) signupPlayer(name string) *TestPlayer {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: wsTimeout}

	resp, err := client.PostForm(ctx.baseURL+"/signup", url.Values{"name": {name}})
	if err != nil {
		ctx.t.Fatalf("signup %s: %v", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		ctx.t.Fatalf("signup %s: status %d", name, resp.StatusCode)
	}
	var account accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		ctx.t.Fatalf("signup %s: decode: %v", name, err)
	}

	ctx.logger.Debug("Signed up %s as %s", name, account.PlayerID)
	return &TestPlayer{t: ctx.t, logger: ctx.logger, Name: name, ID: account.PlayerID, client: client}
}

// connect opens the player's WebSocket to an area and waits for the
// first snapshot
func (ctx *TestContext) connect(tp *TestPlayer, area string) AreaSnapshot {
	dialer := websocket.Dialer{Jar: tp.client.Jar, HandshakeTimeout: wsTimeout}
	conn, _, err := dialer.Dial(ctx.wsURL+"/ws?area="+url.QueryEscape(area), nil)
	if err != nil {
		ctx.t.Fatalf("dial ws for %s: %v", tp.Name, err)
	}
	tp.conn = conn
	ctx.t.Cleanup(func() { conn.Close() })

	var snap stateMessage
	tp.waitFor("state", func(e wsEnvelope) bool { e.decode(&snap); return true })
	return snap.AreaSnapshot
}

// send writes an action to the server
func (tp *TestPlayer) send(msg WSMessage) {
	tp.conn.SetWriteDeadline(time.Now().Add(wsTimeout))
	if err := tp.conn.WriteJSON(msg); err != nil {
		tp.t.Fatalf("[%s] write %s: %v", tp.Name, msg.Action, err)
	}
}

// waitFor reads messages until one of the given type satisfies match
func (tp *TestPlayer) waitFor(msgType string, match func(wsEnvelope) bool) wsEnvelope {
	tp.t.Helper()
	deadline := time.Now().Add(wsTimeout)
	for {
		tp.conn.SetReadDeadline(deadline)
		_, data, err := tp.conn.ReadMessage()
		if err != nil {
			tp.t.Fatalf("[%s] waiting for %s: %v", tp.Name, msgType, err)
		}
		env := wsEnvelope{raw: data}
		json.Unmarshal(data, &env)
		if tp.logger != nil {
			tp.logger.Debug("[%s] <- %s", tp.Name, strings.TrimSpace(string(data)))
		}
		if env.Type == msgType && match(env) {
			return env
		}
	}
}

// do sends an action and waits for its result or error toast
func (tp *TestPlayer) do(msg WSMessage) (CommandResult, *Toast) {
	tp.t.Helper()
	tp.send(msg)
	deadline := time.Now().Add(wsTimeout)
	for {
		tp.conn.SetReadDeadline(deadline)
		_, data, err := tp.conn.ReadMessage()
		if err != nil {
			tp.t.Fatalf("[%s] waiting for reply to %s: %v", tp.Name, msg.Action, err)
		}
		var env wsEnvelope
		json.Unmarshal(data, &env)
		switch env.Type {
		case "result":
			var res resultMessage
			json.Unmarshal(data, &res)
			if res.Action == msg.Action {
				return res.Result, nil
			}
		case "toast":
			var toast Toast
			json.Unmarshal(data, &toast)
			if toast.Level == "error" {
				return CommandResult{}, &toast
			}
		}
	}
}

// waitForState waits for a snapshot matching pred
func (tp *TestPlayer) waitForState(pred func(AreaSnapshot) bool) AreaSnapshot {
	tp.t.Helper()
	var snap stateMessage
	tp.waitFor("state", func(e wsEnvelope) bool {
		snap = stateMessage{}
		e.decode(&snap)
		return pred(snap.AreaSnapshot)
	})
	return snap.AreaSnapshot
}

func (tp *TestPlayer) disconnect() {
	tp.conn.Close()
}
