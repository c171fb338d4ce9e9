package sql

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) UpsertRoom(room *model.MUCRoom) error {
	_, err := s.builder.Insert("muc_rooms").
		Columns("name", "subject", "persistent", "public", "members_only", "moderated", "max_history_messages", "password", "max_occupants", "anonymity", "description").
		Values(room.Name, room.Subject, room.Persistent, room.Public, room.MembersOnly, room.ModeratedRoom, room.MaxHistoryMessages, room.Password, room.MaxOccupants, room.Anonymity, room.Description).
		Suffix("ON DUPLICATE KEY UPDATE subject = VALUES(subject), persistent = VALUES(persistent), public = VALUES(public), members_only = VALUES(members_only), moderated = VALUES(moderated), max_history_messages = VALUES(max_history_messages), password = VALUES(password), max_occupants = VALUES(max_occupants), anonymity = VALUES(anonymity), description = VALUES(description)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: upsert room")
	}
	return nil
}

func (s *Storage) FetchRoom(name string) (*model.MUCRoom, error) {
	var r model.MUCRoom
	r.Name = name
	err := s.builder.Select("subject", "persistent", "public", "members_only", "moderated", "max_history_messages", "password", "max_occupants", "anonymity", "description").
		From("muc_rooms").Where("name = ?", name).RunWith(s.db).QueryRow().
		Scan(&r.Subject, &r.Persistent, &r.Public, &r.MembersOnly, &r.ModeratedRoom, &r.MaxHistoryMessages, &r.Password, &r.MaxOccupants, &r.Anonymity, &r.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch room")
	}
	return &r, nil
}

func (s *Storage) DeleteRoom(name string) error {
	_, err := s.builder.Delete("muc_rooms").Where("name = ?", name).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete room")
	}
	return nil
}

func (s *Storage) FetchPersistentRooms() ([]model.MUCRoom, error) {
	rows, err := s.builder.Select("name", "subject", "persistent", "public", "members_only", "moderated", "max_history_messages", "password", "max_occupants", "anonymity", "description").
		From("muc_rooms").Where("persistent = ?", true).RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch persistent rooms")
	}
	defer rows.Close()

	var out []model.MUCRoom
	for rows.Next() {
		var r model.MUCRoom
		if err := rows.Scan(&r.Name, &r.Subject, &r.Persistent, &r.Public, &r.MembersOnly, &r.ModeratedRoom, &r.MaxHistoryMessages, &r.Password, &r.MaxOccupants, &r.Anonymity, &r.Description); err != nil {
			return nil, errors.Wrap(err, "sql: scan room")
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Storage) UpsertAffiliation(a *model.MUCAffiliation) error {
	_, err := s.builder.Insert("muc_affiliations").
		Columns("room", "jid", "affiliation").Values(a.Room, a.JID, a.Affiliation).
		Suffix("ON DUPLICATE KEY UPDATE affiliation = VALUES(affiliation)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: upsert affiliation")
	}
	return nil
}

func (s *Storage) FetchAffiliation(room, jid string) (*model.MUCAffiliation, error) {
	a := model.MUCAffiliation{Room: room, JID: jid}
	err := s.builder.Select("affiliation").From("muc_affiliations").
		Where("room = ? AND jid = ?", room, jid).RunWith(s.db).QueryRow().Scan(&a.Affiliation)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch affiliation")
	}
	return &a, nil
}

func (s *Storage) FetchAffiliations(room string) ([]model.MUCAffiliation, error) {
	rows, err := s.builder.Select("jid", "affiliation").From("muc_affiliations").
		Where("room = ?", room).RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch affiliations")
	}
	defer rows.Close()

	var out []model.MUCAffiliation
	for rows.Next() {
		a := model.MUCAffiliation{Room: room}
		if err := rows.Scan(&a.JID, &a.Affiliation); err != nil {
			return nil, errors.Wrap(err, "sql: scan affiliation")
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Storage) DeleteAffiliation(room, jid string) error {
	_, err := s.builder.Delete("muc_affiliations").
		Where("room = ? AND jid = ?", room, jid).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete affiliation")
	}
	return nil
}
