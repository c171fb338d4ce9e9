package sql

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) FetchUser(username string) (*model.User, error) {
	row := s.builder.Select(
		"username", "password", "scram_salt", "scram_iterations", "scram_stored_key", "scram_server_key",
		"atproto_did", "atproto_handle", "last_activity_at", "last_activity_status",
	).From("users").Where("username = ?", username).RunWith(s.db).QueryRow()

	var u model.User
	var lastActivity sql.NullTime
	var lastActivityStatus sql.NullString
	err := row.Scan(
		&u.Username, &u.Password, &u.SCRAMSalt, &u.SCRAMIterations, &u.SCRAMStoredKey, &u.SCRAMServerKey,
		&u.ATProtoDID, &u.ATProtoHandle, &lastActivity, &lastActivityStatus,
	)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "sql: fetch user")
	}
	if lastActivity.Valid {
		u.LastActivityAt = lastActivity.Time
	}
	u.LastActivityStatus = lastActivityStatus.String
	return &u, nil
}

func (s *Storage) UpsertUser(u *model.User) error {
	_, err := s.builder.Insert("users").
		Columns("username", "password", "scram_salt", "scram_iterations", "scram_stored_key", "scram_server_key", "atproto_did", "atproto_handle").
		Values(u.Username, u.Password, u.SCRAMSalt, u.SCRAMIterations, u.SCRAMStoredKey, u.SCRAMServerKey, u.ATProtoDID, u.ATProtoHandle).
		Suffix("ON DUPLICATE KEY UPDATE password = VALUES(password), scram_salt = VALUES(scram_salt), scram_iterations = VALUES(scram_iterations), scram_stored_key = VALUES(scram_stored_key), scram_server_key = VALUES(scram_server_key), atproto_did = VALUES(atproto_did), atproto_handle = VALUES(atproto_handle)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: upsert user")
	}
	return nil
}

func (s *Storage) DeleteUser(username string) error {
	_, err := s.builder.Delete("users").Where("username = ?", username).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete user")
	}
	return nil
}

func (s *Storage) UserExists(username string) (bool, error) {
	var count int
	err := s.builder.Select("COUNT(*)").From("users").Where("username = ?", username).
		RunWith(s.db).QueryRow().Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "sql: user exists")
	}
	return count > 0, nil
}

func (s *Storage) SetLastActivity(username, status string) error {
	_, err := s.builder.Update("users").
		Set("last_activity_at", time.Now()).
		Set("last_activity_status", status).
		Where("username = ?", username).
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: set last activity")
	}
	return nil
}

func (s *Storage) FetchLastActivity(username string) (*model.User, error) {
	return s.FetchUser(username)
}

func (s *Storage) PutBridgeToken(t *model.BridgeToken) error {
	_, err := s.builder.Insert("bridge_tokens").
		Columns("token", "username", "expires_at").
		Values(t.Token, t.Username, t.ExpiresAt).
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: put bridge token")
	}
	return nil
}

// RedeemBridgeToken looks up and deletes the token in a single
// transaction so it cannot be replayed, even under concurrent redemption
// attempts from two clients racing the same one-time code.
func (s *Storage) RedeemBridgeToken(token string) (string, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", false, errors.Wrap(err, "sql: redeem bridge token begin")
	}
	defer tx.Rollback()

	var username string
	var expiresAt time.Time
	err = s.builder.Select("username", "expires_at").From("bridge_tokens").
		Where("token = ?", token).RunWith(tx).QueryRow().Scan(&username, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, "sql: redeem bridge token select")
	}
	if _, err := s.builder.Delete("bridge_tokens").Where("token = ?", token).RunWith(tx).Exec(); err != nil {
		return "", false, errors.Wrap(err, "sql: redeem bridge token delete")
	}
	if err := tx.Commit(); err != nil {
		return "", false, errors.Wrap(err, "sql: redeem bridge token commit")
	}
	if time.Now().After(expiresAt) {
		return "", false, nil
	}
	return username, true, nil
}
