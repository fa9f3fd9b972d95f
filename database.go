package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// Account is a row of the player table
type Account struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	SecretCode string `db:"secret_code"`
}

// Player converts the account into the identity handed to game sessions
func (a Account) Player() Player {
	return Player{ID: PlayerID(strconv.FormatInt(a.ID, 10)), Name: a.Name}
}

// StoredResult is a session_result row
type StoredResult struct {
	ID          int64     `db:"id"`
	Area        string    `db:"area"`
	SessionID   string    `db:"session_id"`
	CompletedAt time.Time `db:"completed_at"`
}

// LeaderboardEntry is one line of the all-time scoreboard
type LeaderboardEntry struct {
	PlayerName string `db:"player_name" json:"player_name"`
	Games      int    `db:"games" json:"games"`
	Wins       int    `db:"wins" json:"wins"`
}

func getAccountByID(id int64) (Account, error) {
	var account Account
	err := db.Get(&account, "SELECT rowid as id, name, secret_code FROM player WHERE rowid = ?", id)
	return account, err
}

func getPlayerName(id int64) string {
	var name string
	db.Get(&name, "SELECT name FROM player WHERE rowid = ?", id)
	return name
}

// sqlResultStore mirrors area history into the database so the
// leaderboard covers every area
type sqlResultStore struct {
	db *sqlx.DB
}

func newSQLResultStore(db *sqlx.DB) *sqlResultStore {
	return &sqlResultStore{db: db}
}

func (s *sqlResultStore) RecordResult(area string, result SessionResult) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR IGNORE INTO session_result (area, session_id, completed_at) VALUES (?, ?, ?)`,
		area, result.SessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert session_result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		DebugLog("sqlResultStore.RecordResult: session %s already stored", result.SessionID)
		return nil
	}

	for name, score := range result.Scores {
		_, err := tx.Exec(`INSERT INTO session_score (session_id, player_name, score) VALUES (?, ?, ?)`,
			result.SessionID, name, score)
		if err != nil {
			return fmt.Errorf("insert session_score: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	LogDBState("after result recorded: " + result.SessionID)
	return nil
}

// ResultsForArea loads the stored results of an area, oldest first
func (s *sqlResultStore) ResultsForArea(area string) ([]SessionResult, error) {
	var rows []StoredResult
	err := s.db.Select(&rows, `
		SELECT rowid as id, area, session_id, completed_at
		FROM session_result
		WHERE area = ?
		ORDER BY rowid ASC`, area)
	if err != nil {
		return nil, err
	}

	results := make([]SessionResult, 0, len(rows))
	for _, row := range rows {
		var scores []struct {
			PlayerName string `db:"player_name"`
			Score      int    `db:"score"`
		}
		err := s.db.Select(&scores, `SELECT player_name, score FROM session_score WHERE session_id = ?`, row.SessionID)
		if err != nil {
			return nil, err
		}
		result := SessionResult{SessionID: row.SessionID, Scores: make(map[string]int, len(scores))}
		for _, sc := range scores {
			result.Scores[sc.PlayerName] = sc.Score
		}
		results = append(results, result)
	}
	return results, nil
}

// Leaderboard sums scores across every stored session
func (s *sqlResultStore) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := s.db.Select(&entries, `
		SELECT player_name, COUNT(*) as games, SUM(score) as wins
		FROM session_score
		GROUP BY player_name
		ORDER BY wins DESC, games DESC, player_name ASC
		LIMIT ?`, limit)
	return entries, err
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS player (
		name TEXT UNIQUE NOT NULL,
		secret_code TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session (
		token INTEGER PRIMARY KEY,
		player_id INTEGER NOT NULL,
		FOREIGN KEY (player_id) REFERENCES player(rowid)
	);
	CREATE TABLE IF NOT EXISTS session_result (
		area TEXT NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		completed_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session_score (
		session_id TEXT NOT NULL,
		player_name TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES session_result(session_id),
		UNIQUE(session_id, player_name)
	);
	CREATE INDEX IF NOT EXISTS idx_session_result_area ON session_result(area);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
