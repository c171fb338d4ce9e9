package sql

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage/model"
)

// UpsertRosterItem stores or updates one contact and bumps the per-user
// roster version counter, returning the new version for XEP-0237 push
// notifications.
func (s *Storage) UpsertRosterItem(item *model.RosterItem) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "sql: upsert roster item begin")
	}
	defer tx.Rollback()

	_, err = s.builder.Insert("roster_items").
		Columns("username", "jid", "name", "subscription", "ask", "groups").
		Values(item.Username, item.JID, item.Name, item.Subscription, item.Ask, strings.Join(item.Groups, ",")).
		Suffix("ON DUPLICATE KEY UPDATE name = VALUES(name), subscription = VALUES(subscription), ask = VALUES(ask), groups = VALUES(groups)").
		RunWith(tx).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "sql: upsert roster item")
	}
	ver, err := s.bumpRosterVersion(tx, item.Username)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sql: upsert roster item commit")
	}
	return ver, nil
}

func (s *Storage) DeleteRosterItem(username, jid string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete roster item begin")
	}
	defer tx.Rollback()

	_, err = s.builder.Delete("roster_items").
		Where("username = ? AND jid = ?", username, jid).RunWith(tx).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "sql: delete roster item")
	}
	ver, err := s.bumpRosterVersion(tx, username)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sql: delete roster item commit")
	}
	return ver, nil
}

func (s *Storage) bumpRosterVersion(tx *sql.Tx, username string) (int, error) {
	_, err := s.builder.Insert("roster_versions").
		Columns("username", "ver").Values(username, 1).
		Suffix("ON DUPLICATE KEY UPDATE ver = ver + 1").
		RunWith(tx).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "sql: bump roster version")
	}
	var ver int
	err = s.builder.Select("ver").From("roster_versions").Where("username = ?", username).
		RunWith(tx).QueryRow().Scan(&ver)
	if err != nil {
		return 0, errors.Wrap(err, "sql: read roster version")
	}
	return ver, nil
}

func (s *Storage) FetchRosterItems(username string) ([]model.RosterItem, int, error) {
	rows, err := s.builder.Select("jid", "name", "subscription", "ask", "groups").
		From("roster_items").Where("username = ?", username).RunWith(s.db).Query()
	if err != nil {
		return nil, 0, errors.Wrap(err, "sql: fetch roster items")
	}
	defer rows.Close()

	var items []model.RosterItem
	for rows.Next() {
		var it model.RosterItem
		var groups string
		var ask bool
		if err := rows.Scan(&it.JID, &it.Name, &it.Subscription, &ask, &groups); err != nil {
			return nil, 0, errors.Wrap(err, "sql: scan roster item")
		}
		it.Username = username
		it.Ask = ask
		if groups != "" {
			it.Groups = strings.Split(groups, ",")
		}
		items = append(items, it)
	}
	ver, err := s.currentRosterVersion(username)
	if err != nil {
		return nil, 0, err
	}
	return items, ver, nil
}

func (s *Storage) currentRosterVersion(username string) (int, error) {
	var ver int
	err := s.builder.Select("ver").From("roster_versions").Where("username = ?", username).
		RunWith(s.db).QueryRow().Scan(&ver)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "sql: current roster version")
	}
	return ver, nil
}

func (s *Storage) FetchRosterItemsInGroups(username string, groups []string) ([]model.RosterItem, error) {
	items, _, err := s.FetchRosterItems(username)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return items, nil
	}
	wanted := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		wanted[g] = struct{}{}
	}
	var out []model.RosterItem
	for _, it := range items {
		for _, g := range it.Groups {
			if _, ok := wanted[g]; ok {
				out = append(out, it)
				break
			}
		}
	}
	return out, nil
}

func (s *Storage) FetchRosterItem(username, jid string) (*model.RosterItem, error) {
	row := s.builder.Select("name", "subscription", "ask", "groups").
		From("roster_items").Where("username = ? AND jid = ?", username, jid).RunWith(s.db).QueryRow()

	var it model.RosterItem
	var groups string
	var ask bool
	err := row.Scan(&it.Name, &it.Subscription, &ask, &groups)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "sql: fetch roster item")
	}
	it.Username, it.JID, it.Ask = username, jid, ask
	if groups != "" {
		it.Groups = strings.Split(groups, ",")
	}
	return &it, nil
}

func (s *Storage) InsertRosterNotification(n *model.RosterNotification) error {
	_, err := s.builder.Insert("roster_notifications").
		Columns("username", "jid", "presence").
		Values(n.Username, n.JID, n.Presence).
		Suffix("ON DUPLICATE KEY UPDATE presence = VALUES(presence)").
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: insert roster notification")
	}
	return nil
}

func (s *Storage) DeleteRosterNotification(username, jid string) error {
	_, err := s.builder.Delete("roster_notifications").
		Where("username = ? AND jid = ?", username, jid).RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: delete roster notification")
	}
	return nil
}

func (s *Storage) FetchRosterNotifications(username string) ([]model.RosterNotification, error) {
	rows, err := s.builder.Select("jid", "presence").From("roster_notifications").
		Where("username = ?", username).RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch roster notifications")
	}
	defer rows.Close()

	var out []model.RosterNotification
	for rows.Next() {
		n := model.RosterNotification{Username: username}
		if err := rows.Scan(&n.JID, &n.Presence); err != nil {
			return nil, errors.Wrap(err, "sql: scan roster notification")
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Storage) FetchRosterVersion(username string) (*model.RosterVersion, error) {
	var v model.RosterVersion
	v.Username = username
	err := s.builder.Select("ver").From("roster_versions").Where("username = ?", username).
		RunWith(s.db).QueryRow().Scan(&v.Ver)
	if err == sql.ErrNoRows {
		return &v, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql: fetch roster version")
	}
	return &v, nil
}
