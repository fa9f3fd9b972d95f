package main

import (
	"compress/gzip"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var db *sqlx.DB
var devMode bool

// areas holds every SessionArea served by this process
var areas *AreaRegistry

// resultStore is nil when results are not mirrored to the database
var resultStore *sqlResultStore

// defaultArea is used when a request doesn't name an area
var defaultArea = "town-square"

func areaFromRequest(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("area")); name != "" {
		return name
	}
	return defaultArea
}

// resultHooks runs everything that follows a recorded result
type resultHooks struct {
	store *sqlResultStore
}

func (h resultHooks) RecordResult(area string, result SessionResult) error {
	maybeTellStory(area, result)
	if h.store == nil {
		return nil
	}
	return h.store.RecordResult(area, result)
}

// newAreaFactory builds areas whose change hook pushes state through the hub
func newAreaFactory(opts AreaOptions, store *sqlResultStore) func(name string) *SessionArea {
	return func(name string) *SessionArea {
		o := opts
		o.Recorder = resultHooks{store: store}
		var area *SessionArea
		o.OnChange = func() {
			hub.broadcastArea(area)
		}
		area = NewSessionArea(name, o)
		return area
	}
}

// serviceInfo is the index document
type serviceInfo struct {
	Service   string   `json:"service"`
	Areas     []string `json:"areas"`
	LoggedIn  bool     `json:"logged_in"`
	PlayerID  PlayerID `json:"player_id,omitempty"`
	SeatCount int      `json:"seat_count"`
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := serviceInfo{Service: "onenight", Areas: areas.Names(), SeatCount: SeatCount}
	if player, err := currentPlayer(r); err == nil {
		info.LoggedIn = true
		info.PlayerID = player.ID
		DebugLog("handleIndex: accessed by player '%s' (ID: %s)", player.Name, player.ID)
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAreaState returns the caller's view of an area. Anonymous callers
// get the public view.
func handleAreaState(w http.ResponseWriter, r *http.Request) {
	var viewer PlayerID
	if player, err := currentPlayer(r); err == nil {
		viewer = player.ID
	}
	area := areas.Get(areaFromRequest(r))
	writeJSON(w, http.StatusOK, area.Snapshot(viewer))
}

// handleAreaHistory returns the in-memory history, or every stored result
// for the area with ?all=1
func handleAreaHistory(w http.ResponseWriter, r *http.Request) {
	name := areaFromRequest(r)
	if r.URL.Query().Get("all") == "1" && resultStore != nil {
		results, err := resultStore.ResultsForArea(name)
		if err != nil {
			logError("handleAreaHistory: ResultsForArea", err)
			writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}
	writeJSON(w, http.StatusOK, areas.Get(name).History())
}

func handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if resultStore == nil {
		writeJSON(w, http.StatusOK, []LeaderboardEntry{})
		return
	}
	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	entries, err := resultStore.Leaderboard(limit)
	if err != nil {
		logError("handleLeaderboard: Leaderboard", err)
		writeErrorJSON(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

// newMux registers every route. The WebSocket route is not compressed
// because the upgrade needs the raw http.Hijacker.
func newMux(logger *AppLogger) *http.ServeMux {
	mux := http.NewServeMux()

	wrap := func(h http.Handler) http.Handler {
		h = disableCaching(h)
		if logger != nil && logger.logRequests {
			h = &LoggingHandler{Handler: h, Logger: logger}
		}
		return h
	}

	mux.Handle("/", wrap(compress(http.HandlerFunc(handleIndex))))
	mux.Handle("/signup", wrap(compress(http.HandlerFunc(handleSignup))))
	mux.Handle("/login", wrap(compress(http.HandlerFunc(handleLogin))))
	mux.Handle("/logout", wrap(http.HandlerFunc(handleLogout)))
	mux.Handle("/area/state", wrap(compress(http.HandlerFunc(handleAreaState))))
	mux.Handle("/area/history", wrap(compress(http.HandlerFunc(handleAreaHistory))))
	mux.Handle("/leaderboard", wrap(compress(http.HandlerFunc(handleLeaderboard))))
	mux.Handle("/ws", wrap(http.HandlerFunc(handleWebSocket)))
	return mux
}

func main() {
	fs := flag.CommandLine
	fv := registerFlags(fs)
	flag.Parse()

	cfg := loadConfig(*fv.configPath)
	fv.applyTo(fs, &cfg)
	devMode = cfg.Dev
	defaultArea = cfg.Area

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("onenight.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	logger, err := NewAppLogger(cfg.toLogConfig())
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	appLogger = logger
	defer CloseAppLogger()

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err = sqlx.Connect("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := initDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	LogDBState("after initDB")

	initStoryteller(cfg)

	resultStore = newSQLResultStore(db)
	areas = NewAreaRegistry(newAreaFactory(cfg.toAreaOptions(), resultStore))

	hub.start()

	log.Printf("Server starting on %s (default area %q)", cfg.Addr, cfg.Area)
	log.Fatal(http.ListenAndServe(cfg.Addr, newMux(appLogger)))
}
