package sql

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) PutISRToken(t *model.ISRToken) error {
	_, err := s.builder.Insert("isr_tokens").
		Columns("token", "username", "resource", "issued_at", "expires_at", "last_stream_id", "inbound_count", "outbound_count").
		Values(t.Token, t.Username, t.Resource, t.IssuedAt, t.ExpiresAt, t.LastStreamID, t.InboundCount, t.OutboundCount).
		Suffix("ON DUPLICATE KEY UPDATE last_stream_id = VALUES(last_stream_id), expires_at = VALUES(expires_at), inbound_count = VALUES(inbound_count), outbound_count = VALUES(outbound_count)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: put isr token")
	}
	return nil
}

func (s *Storage) FetchISRToken(token string) (*model.ISRToken, error) {
	var t model.ISRToken
	t.Token = token
	err := s.builder.Select("username", "resource", "issued_at", "expires_at", "last_stream_id", "inbound_count", "outbound_count").
		From("isr_tokens").Where("token = ?", token).RunWith(s.db).QueryRow().
		Scan(&t.Username, &t.Resource, &t.IssuedAt, &t.ExpiresAt, &t.LastStreamID, &t.InboundCount, &t.OutboundCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch isr token")
	}
	return &t, nil
}

// ConsumeISRToken atomically fetches and deletes token in one transaction,
// guaranteeing at most one caller ever observes a successful consume for
// a given token even under concurrent resumption attempts.
func (s *Storage) ConsumeISRToken(token string) (*model.ISRToken, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "sql: consume isr token begin")
	}
	defer tx.Rollback()

	var t model.ISRToken
	t.Token = token
	err = s.builder.Select("username", "resource", "issued_at", "expires_at", "last_stream_id", "inbound_count", "outbound_count").
		From("isr_tokens").Where("token = ?", token).RunWith(tx).QueryRow().
		Scan(&t.Username, &t.Resource, &t.IssuedAt, &t.ExpiresAt, &t.LastStreamID, &t.InboundCount, &t.OutboundCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql: consume isr token select")
	}
	if _, err := s.builder.Delete("isr_tokens").Where("token = ?", token).RunWith(tx).Exec(); err != nil {
		return nil, errors.Wrap(err, "sql: consume isr token delete")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "sql: consume isr token commit")
	}
	return &t, nil
}

func (s *Storage) DeleteISRToken(token string) error {
	_, err := s.builder.Delete("isr_tokens").Where("token = ?", token).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete isr token")
	}
	return nil
}

func (s *Storage) CountISRTokens() (int, error) {
	var count int
	err := s.builder.Select("COUNT(*)").From("isr_tokens").
		RunWith(s.db).QueryRow().Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "sql: count isr tokens")
	}
	return count, nil
}

func (s *Storage) DeleteExpiredISRTokens() (int, error) {
	res, err := s.builder.Delete("isr_tokens").Where("expires_at < ?", time.Now()).RunWith(s.db).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete expired isr tokens")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete expired isr tokens rows affected")
	}
	return int(n), nil
}

// DeleteOldestISRTokens removes the n oldest tokens by issue time. The
// select-then-delete split keeps the statement portable (MySQL rejects a
// LIMIT inside a same-table delete subquery).
func (s *Storage) DeleteOldestISRTokens(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	rows, err := s.builder.Select("token").From("isr_tokens").
		OrderBy("issued_at ASC").Limit(uint64(n)).RunWith(s.db).Query()
	if err != nil {
		return 0, errors.Wrap(err, "sql: select oldest isr tokens")
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return 0, errors.Wrap(err, "sql: scan oldest isr token")
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := s.builder.Delete("isr_tokens").Where(sq.Eq{"token": tokens}).RunWith(s.db).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete oldest isr tokens")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete oldest isr tokens rows affected")
	}
	return int(deleted), nil
}
