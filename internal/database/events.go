package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/quorumgames/lobbyd/internal/journal"
)

// InsertLobbyEventTx inserts a single journaled event into the lobby_events
// table, creating the lobbies row on first sight and advancing its status
// on lifecycle events.
func InsertLobbyEventTx(ctx context.Context, tx pgx.Tx, rec journal.Record) error {
	upsertLobbyQ := `
		INSERT INTO lobbies (id, game_id, status, first_seen_at)
		VALUES ($1, $2, 'active', NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsertLobbyQ, rec.LobbyID, rec.GameID); err != nil {
		return err
	}

	eventInsertQ := `
		INSERT INTO lobby_events (
			seq, game_id, lobby_id, event_type, payload, ts_ms
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, eventInsertQ,
		rec.Seq, rec.GameID, rec.LobbyID, rec.Type, rec.Payload, rec.Ts,
	); err != nil {
		return err
	}

	switch rec.Type {
	case "lobby_started":
		startQ := `
			UPDATE lobbies
			SET status = 'started', started_at = NOW()
			WHERE id = $1 AND status = 'active'
		`
		if _, err := tx.Exec(ctx, startQ, rec.LobbyID); err != nil {
			return err
		}
	case "lobby_deleted":
		deleteQ := `
			UPDATE lobbies
			SET status = 'deleted', deleted_at = NOW()
			WHERE id = $1 AND status IN ('active', 'started')
		`
		if _, err := tx.Exec(ctx, deleteQ, rec.LobbyID); err != nil {
			return err
		}
	}
	return nil
}
