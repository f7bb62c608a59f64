package database

import (
	"context"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SaveChat replaces every alert stored for chatID
func (s *SQLite) SaveChat(ctx context.Context, chatID int64, conditions []types.Condition) error {
	payload, err := encodeChat(conditions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
	INSERT OR REPLACE INTO alert_chats (chat_id, payload, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP);`
	if _, err := tx.ExecContext(ctx, query, chatID, payload); err != nil {
		return errors.Wrapf(err, "failed to save alerts of chat %d", chatID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit alerts")
	}

	log.Debugf("alerts saved: chat %d, %d thresholds", chatID, len(conditions))
	return nil
}

// DeleteChat removes every alert of chatID
func (s *SQLite) DeleteChat(ctx context.Context, chatID int64) error {
	query := `DELETE FROM alert_chats WHERE chat_id = ?;`
	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return errors.Wrapf(err, "failed to delete alerts of chat %d", chatID)
	}
	return nil
}

// LoadAll returns every stored alert
func (s *SQLite) LoadAll(ctx context.Context) ([]types.Condition, error) {
	query := `SELECT chat_id, payload FROM alert_chats;`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query alerts")
	}
	defer rows.Close()

	var out []types.Condition
	for rows.Next() {
		var chatID int64
		var payload string
		if err := rows.Scan(&chatID, &payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		conditions, err := decodeChat(chatID, payload)
		if err != nil {
			log.WithError(err).Errorf("skipping unreadable alerts of chat %d", chatID)
			continue
		}
		out = append(out, conditions...)
	}
	return out, errors.Wrap(rows.Err(), "failed to read alerts")
}
