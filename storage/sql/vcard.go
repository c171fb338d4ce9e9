package sql

import (
	"database/sql"

	"github.com/pkg/errors"
)

func (s *Storage) FetchVCard(username string) (string, error) {
	var rawXML string
	err := s.builder.Select("vcard").From("vcards").Where("username = ?", username).
		RunWith(s.db).QueryRow().Scan(&rawXML)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "sql: fetch vcard")
	}
	return rawXML, nil
}

func (s *Storage) UpsertVCard(username, rawXML string) error {
	_, err := s.builder.Insert("vcards").
		Columns("username", "vcard").Values(username, rawXML).
		Suffix("ON DUPLICATE KEY UPDATE vcard = VALUES(vcard)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: upsert vcard")
	}
	return nil
}
