package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// ErrDSNNotSet is returned by a backend constructor given no DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// openSQL opens, tunes and pings a database/sql handle, then applies schema.
// The handle is closed again if any step fails.
func openSQL(driver, dsn, schema string, tune func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", driver, err)
	}
	if tune != nil {
		tune(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	if err := applySchema(db, driver, schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// applySchema runs the idempotent CREATE ... IF NOT EXISTS script for a backend.
func applySchema(db *sql.DB, driver, schema string) error {
	if _, err := db.Exec(schema); err != nil {
		slog.Error("store schema migration failed", "driver", driver, "error", err)
		return fmt.Errorf("%s migrations: %w", driver, err)
	}
	slog.Debug("store schema ready", "driver", driver)
	return nil
}

// closeSQL closes db, logging rather than hiding a failure.
func closeSQL(driver string, db *sql.DB) error {
	if err := db.Close(); err != nil {
		slog.Error("store close failed", "driver", driver, "error", err)
		return err
	}
	return nil
}

// encodeStateColumns converts answers and flags to JSON for the SQL backends.
func encodeStateColumns(state models.ConversationState) (answers, flags string, err error) {
	a, err := json.Marshal(state.Answers)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode answers for %s: %w", state.Sender, err)
	}
	f, err := json.Marshal(state.Flags)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode flags for %s: %w", state.Sender, err)
	}
	return string(a), string(f), nil
}

// decodeStateColumns fills answers and flags from their JSON columns. A corrupt
// column is reported rather than silently reset, so the caller never overwrites
// a record it could not read.
func decodeStateColumns(state *models.ConversationState, answers, flags []byte) error {
	state.Flags = make(map[models.Flag]bool)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &state.Answers); err != nil {
			slog.Error("store decode answers failed", "error", err, "sender", state.Sender)
			return fmt.Errorf("corrupt answers for %s: %w", state.Sender, err)
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &state.Flags); err != nil {
			slog.Error("store decode flags failed", "error", err, "sender", state.Sender)
			return fmt.Errorf("corrupt flags for %s: %w", state.Sender, err)
		}
		if state.Flags == nil {
			state.Flags = make(map[models.Flag]bool)
		}
	}
	return nil
}
