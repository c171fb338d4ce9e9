package sql

import (
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
)

// NewMock wires a Storage against a go-sqlmock connection for unit tests.
func NewMock() (*Storage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		panic(err)
	}
	return &Storage{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, mock
}
