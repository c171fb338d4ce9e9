package sql

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/waddle-social/waddle/storage/model"
)

func TestPutISRToken(t *testing.T) {
	s, mock := NewMock()
	issued := time.Unix(1000, 0)
	expires := time.Unix(1300, 0)
	mock.ExpectExec("INSERT INTO isr_tokens (.+) ON DUPLICATE KEY UPDATE (.+)").
		WithArgs("tok-1", "alice", "phone", issued, expires, "", uint32(0), uint32(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.PutISRToken(&model.ISRToken{
		Token: "tok-1", Username: "alice", Resource: "phone",
		IssuedAt: issued, ExpiresAt: expires,
	})
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
}

func TestFetchISRTokenMissingIsNotError(t *testing.T) {
	s, mock := NewMock()
	mock.ExpectQuery("SELECT (.+) FROM isr_tokens (.+)").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"username", "resource", "issued_at", "expires_at",
			"last_stream_id", "inbound_count", "outbound_count",
		}))

	tok, err := s.FetchISRToken("missing")
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Nil(t, tok)
}

func TestConsumeISRTokenDeletesWithinTransaction(t *testing.T) {
	s, mock := NewMock()
	issued := time.Unix(1000, 0)
	expires := time.Unix(1300, 0)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM isr_tokens (.+)").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"username", "resource", "issued_at", "expires_at",
			"last_stream_id", "inbound_count", "outbound_count",
		}).AddRow("alice", "phone", issued, expires, "stream-9", uint32(2), uint32(3)))
	mock.ExpectExec("DELETE FROM isr_tokens (.+)").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tok, err := s.ConsumeISRToken("tok-1")
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Equal(t, "alice", tok.Username)
	require.Equal(t, "stream-9", tok.LastStreamID)
	require.Equal(t, uint32(2), tok.InboundCount)
}

func TestConsumeISRTokenMissingRollsBack(t *testing.T) {
	s, mock := NewMock()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM isr_tokens (.+)").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"username", "resource", "issued_at", "expires_at",
			"last_stream_id", "inbound_count", "outbound_count",
		}))
	mock.ExpectRollback()

	tok, err := s.ConsumeISRToken("missing")
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Nil(t, tok)
}

func TestDeleteExpiredISRTokens(t *testing.T) {
	s, mock := NewMock()
	mock.ExpectExec("DELETE FROM isr_tokens (.+)").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteExpiredISRTokens()
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestDeleteOldestISRTokens(t *testing.T) {
	s, mock := NewMock()
	mock.ExpectQuery("SELECT token FROM isr_tokens (.+)").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-1").AddRow("tok-2"))
	mock.ExpectExec("DELETE FROM isr_tokens (.+)").
		WithArgs("tok-1", "tok-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.DeleteOldestISRTokens(2)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestDeleteOldestISRTokensNothingToEvict(t *testing.T) {
	s, mock := NewMock()
	mock.ExpectQuery("SELECT token FROM isr_tokens (.+)").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	n, err := s.DeleteOldestISRTokens(3)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
