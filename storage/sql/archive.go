package sql

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
)

func (s *Storage) InsertArchivedMessage(msg *model.ArchivedMessage) error {
	_, err := s.builder.Insert("archived_messages").
		Columns("stanza_id", "archive", "direction", "counterpart", "data", "stored_at").
		Values(msg.StanzaID, msg.Archive, msg.Direction, msg.Counterpart, msg.XML, msg.StoredAt).
		RunWith(s.db).Exec()
	if err != nil {
		return errors.Wrap(err, "sql: insert archived message")
	}
	return nil
}

// QueryArchive fetches up to limit+1 rows of archive within the open
// interval (afterID, beforeID), always returned in ascending archive_id
// order. When beforeID is set it queries descending and reverses, the
// "N+1 in the direction away from the page boundary" trick that lets the
// caller both page backward from an RSM <before/> anchor and still learn
// whether more messages exist on the far side.
func (s *Storage) QueryArchive(archive string, afterID, beforeID int64, limit int) ([]model.ArchivedMessage, error) {
	return s.QueryArchiveFiltered(archive, afterID, beforeID, limit, storage.ArchiveFilter{})
}

// QueryArchiveFiltered is QueryArchive with package mam's with/start/end
// constraints layered onto the same N+1, direction-aware paging.
func (s *Storage) QueryArchiveFiltered(archive string, afterID, beforeID int64, limit int, filter storage.ArchiveFilter) ([]model.ArchivedMessage, error) {
	q := s.builder.Select("archive_id", "stanza_id", "archive", "direction", "counterpart", "data", "stored_at").
		From("archived_messages").Where(sq.Eq{"archive": archive})

	if afterID > 0 {
		q = q.Where(sq.Gt{"archive_id": afterID})
	}
	if filter.With != "" {
		q = q.Where(sq.Eq{"counterpart": filter.With})
	}
	if !filter.Start.IsZero() {
		q = q.Where(sq.GtOrEq{"stored_at": filter.Start})
	}
	if !filter.End.IsZero() {
		q = q.Where(sq.LtOrEq{"stored_at": filter.End})
	}
	descending := beforeID > 0
	if descending {
		q = q.Where(sq.Lt{"archive_id": beforeID}).OrderBy("archive_id DESC")
	} else {
		q = q.OrderBy("archive_id ASC")
	}
	q = q.Limit(uint64(limit + 1))

	rows, err := q.RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "sql: query archive")
	}
	defer rows.Close()

	var out []model.ArchivedMessage
	for rows.Next() {
		var m model.ArchivedMessage
		if err := rows.Scan(&m.ArchiveID, &m.StanzaID, &m.Archive, &m.Direction, &m.Counterpart, &m.XML, &m.StoredAt); err != nil {
			return nil, errors.Wrap(err, "sql: scan archived message")
		}
		out = append(out, m)
	}
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *Storage) ArchiveMessageCount(archive string) (int, error) {
	var count int
	err := s.builder.Select("COUNT(*)").From("archived_messages").
		Where(sq.Eq{"archive": archive}).RunWith(s.db).QueryRow().Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "sql: archive message count")
	}
	return count, nil
}
