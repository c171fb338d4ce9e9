package sql

import (
	"database/sql"

	"github.com/pkg/errors"
)

// FetchPrivateXML returns the stored blob for namespace/username, or ""
// if none is stored; empty-row and missing-row both yield no error.
func (s *Storage) FetchPrivateXML(namespace, username string) (string, error) {
	var rawXML string
	err := s.builder.Select("data").From("private_storage").
		Where("username = ? AND namespace = ?", username, namespace).
		RunWith(s.db).QueryRow().Scan(&rawXML)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "sql: fetch private xml")
	}
	return rawXML, nil
}

func (s *Storage) UpsertPrivateXML(namespace, username, rawXML string) error {
	_, err := s.builder.Insert("private_storage").
		Columns("username", "namespace", "data").
		Values(username, namespace, rawXML).
		Suffix("ON DUPLICATE KEY UPDATE data = VALUES(data)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: upsert private xml")
	}
	return nil
}
