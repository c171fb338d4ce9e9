package sql

import (
	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) InsertBlockListItem(item *model.BlockListItem) error {
	_, err := s.builder.Insert("blocklist_items").
		Columns("username", "jid").Values(item.Username, item.JID).
		Suffix("ON DUPLICATE KEY UPDATE jid = VALUES(jid)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: insert blocklist item")
	}
	return nil
}

func (s *Storage) DeleteBlockListItem(item *model.BlockListItem) error {
	_, err := s.builder.Delete("blocklist_items").
		Where("username = ? AND jid = ?", item.Username, item.JID).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete blocklist item")
	}
	return nil
}

func (s *Storage) FetchBlockListItems(username string) ([]model.BlockListItem, error) {
	rows, err := s.builder.Select("jid").From("blocklist_items").
		Where("username = ?", username).RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch blocklist items")
	}
	defer rows.Close()

	var out []model.BlockListItem
	for rows.Next() {
		item := model.BlockListItem{Username: username}
		if err := rows.Scan(&item.JID); err != nil {
			return nil, errors.Wrap(err, "sql: scan blocklist item")
		}
		out = append(out, item)
	}
	return out, nil
}
