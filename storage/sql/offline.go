package sql

import (
	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) InsertOfflineMessage(msg *model.OfflineMessage) error {
	_, err := s.builder.Insert("offline_messages").
		Columns("username", "data", "delayed_at").
		Values(msg.Username, msg.XML, msg.DelayedAt).
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: insert offline message")
	}
	return nil
}

func (s *Storage) CountOfflineMessages(username string) (int, error) {
	var count int
	err := s.builder.Select("COUNT(*)").From("offline_messages").
		Where("username = ?", username).RunWith(s.db).QueryRow().Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "sql: count offline messages")
	}
	return count, nil
}

func (s *Storage) FetchOfflineMessages(username string) ([]model.OfflineMessage, error) {
	rows, err := s.builder.Select("id", "data", "delayed_at").From("offline_messages").
		Where("username = ?", username).OrderBy("id ASC").RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch offline messages")
	}
	defer rows.Close()

	var out []model.OfflineMessage
	for rows.Next() {
		m := model.OfflineMessage{Username: username}
		if err := rows.Scan(&m.ID, &m.XML, &m.DelayedAt); err != nil {
			return nil, errors.Wrap(err, "sql: scan offline message")
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Storage) DeleteOfflineMessages(username string) error {
	_, err := s.builder.Delete("offline_messages").Where("username = ?", username).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete offline messages")
	}
	return nil
}
