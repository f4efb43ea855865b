package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GameResult is the archived outcome of one finished game.
type GameResult struct {
	GameID     string         `json:"gameId"`
	TableID    string         `json:"tableId"`
	WinnerID   string         `json:"winnerId,omitempty"`
	WinnerName string         `json:"winnerName,omitempty"`
	Scores     map[string]int `json:"scores"` // player name -> final score
	Rounds     int            `json:"rounds"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// ResultStore archives finished games. Live tables are never persisted.
type ResultStore interface {
	SaveResult(ctx context.Context, result GameResult) error
	RecentResults(ctx context.Context, limit int) ([]GameResult, error)
}

// NopResultStore is used when no database is configured.
type NopResultStore struct{}

func (NopResultStore) SaveResult(context.Context, GameResult) error { return nil }

func (NopResultStore) RecentResults(context.Context, int) ([]GameResult, error) {
	return []GameResult{}, nil
}

// SQLResultStore works against both PostgreSQL and SQLite.
type SQLResultStore struct {
	db *sql.DB
}

func NewSQLResultStore(db *sql.DB) *SQLResultStore {
	return &SQLResultStore{db: db}
}

// SaveResult ignores a game id it has already stored.
func (s *SQLResultStore) SaveResult(ctx context.Context, result GameResult) error {
	scores, err := json.Marshal(result.Scores)
	if err != nil {
		return fmt.Errorf("failed to serialize scores: %w", err)
	}

	query := `
		INSERT INTO game_results (game_id, table_id, winner_id, winner_name, scores, rounds, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		result.GameID,
		result.TableID,
		result.WinnerID,
		result.WinnerName,
		string(scores),
		result.Rounds,
		result.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result for game %s: %w", result.GameID, err)
	}
	return nil
}

// RecentResults returns up to limit results, newest first.
func (s *SQLResultStore) RecentResults(ctx context.Context, limit int) ([]GameResult, error) {
	query := `
		SELECT game_id, table_id, winner_id, winner_name, scores, rounds, finished_at
		FROM game_results
		ORDER BY finished_at DESC, game_id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []GameResult{}
	for rows.Next() {
		var r GameResult
		var scores string
		if err := rows.Scan(&r.GameID, &r.TableID, &r.WinnerID, &r.WinnerName, &scores, &r.Rounds, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
			return nil, fmt.Errorf("failed to deserialize scores for game %s: %w", r.GameID, err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return results, nil
}
