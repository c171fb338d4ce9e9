package sql

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestQueryArchiveAscending(t *testing.T) {
	s, mock := NewMock()
	cols := []string{"archive_id", "stanza_id", "archive", "direction", "counterpart", "data", "stored_at"}
	mock.ExpectQuery("SELECT (.+) FROM archived_messages (.+)").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "s1", "alice@waddle.example", "inbound", "bob@waddle.example", "<message/>", time.Unix(0, 0)).
			AddRow(2, "s2", "alice@waddle.example", "inbound", "bob@waddle.example", "<message/>", time.Unix(0, 0)))

	msgs, err := s.QueryArchive("alice@waddle.example", 0, 0, 1)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(1), msgs[0].ArchiveID)
	require.Equal(t, int64(2), msgs[1].ArchiveID)
}

func TestQueryArchiveBeforeIDReversesToAscending(t *testing.T) {
	s, mock := NewMock()
	cols := []string{"archive_id", "stanza_id", "archive", "direction", "counterpart", "data", "stored_at"}
	// descending rows as the DB would return them for a before_id query
	mock.ExpectQuery("SELECT (.+) FROM archived_messages (.+)").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(9, "s9", "alice@waddle.example", "inbound", "bob@waddle.example", "<message/>", time.Unix(0, 0)).
			AddRow(8, "s8", "alice@waddle.example", "inbound", "bob@waddle.example", "<message/>", time.Unix(0, 0)))

	msgs, err := s.QueryArchive("alice@waddle.example", 0, 10, 2)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(8), msgs[0].ArchiveID)
	require.Equal(t, int64(9), msgs[1].ArchiveID)
}
