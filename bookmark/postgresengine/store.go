package postgresengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

const (
	defaultBookmarkTableName = "bookmarks"

	colName     = "name"
	colSequence = "sequence"

	dialectPostgres = "postgres"
)

var (
	// ErrReadingBookmarkFailed wraps storage faults on the read path.
	ErrReadingBookmarkFailed = errors.New("failed to read bookmark")

	// ErrSavingBookmarkFailed wraps storage faults on the write path.
	ErrSavingBookmarkFailed = errors.New("failed to save bookmark")
)

// Store is the Postgres implementation of bookmark.Store.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
	logger    eventstore.Logger
}

// StoreOption defines a functional option for configuring Store.
type StoreOption func(*Store) error

// WithTableName sets the bookmark table name.
func WithTableName(tableName string) StoreOption {
	return func(s *Store) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableName
		}

		s.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the Store.
func WithLogger(logger eventstore.Logger) StoreOption {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStore creates a Postgres bookmark store on the given pool.
func NewStore(pool *pgxpool.Pool, options ...StoreOption) (*Store, error) {
	if pool == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	s := &Store{
		pool:      pool,
		tableName: defaultBookmarkTableName,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// CreateSchema bootstraps the bookmark table. Idempotent.
func (s *Store) CreateSchema(ctx context.Context) error {
	statement := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s TEXT PRIMARY KEY,
		%s BIGINT NOT NULL
	)`, s.tableName, colName, colSequence)

	if _, execErr := s.pool.Exec(ctx, statement); execErr != nil {
		return errors.Join(eventstore.ErrCreatingSchemaFailed, execErr)
	}

	return nil
}

// BookmarkFor returns the named bookmark, materializing it at sequence 0 if
// absent.
func (s *Store) BookmarkFor(ctx context.Context, name string) (bookmark.Bookmark, error) {
	insertSQL, _, insertErr := goqu.Dialect(dialectPostgres).
		Insert(s.tableName).
		Rows(goqu.Record{colName: name, colSequence: 0}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if insertErr != nil {
		return bookmark.Bookmark{}, errors.Join(eventstore.ErrBuildingQueryFailed, insertErr)
	}

	if _, execErr := s.pool.Exec(ctx, insertSQL); execErr != nil {
		return bookmark.Bookmark{}, errors.Join(ErrReadingBookmarkFailed, execErr)
	}

	selectSQL, _, selectErr := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(colSequence).
		Where(goqu.C(colName).Eq(name)).
		ToSQL()
	if selectErr != nil {
		return bookmark.Bookmark{}, errors.Join(eventstore.ErrBuildingQueryFailed, selectErr)
	}

	var sequence int64
	if scanErr := s.pool.QueryRow(ctx, selectSQL).Scan(&sequence); scanErr != nil {
		return bookmark.Bookmark{}, errors.Join(ErrReadingBookmarkFailed, scanErr)
	}

	return bookmark.Bookmark{Name: name, Sequence: eventstore.SequenceNumber(sequence)}, nil
}

// Save upserts the bookmark.
func (s *Store) Save(ctx context.Context, b bookmark.Bookmark) error {
	upsertSQL, _, buildErr := goqu.Dialect(dialectPostgres).
		Insert(s.tableName).
		Rows(goqu.Record{colName: b.Name, colSequence: b.Sequence}).
		OnConflict(goqu.DoUpdate(colName, goqu.Record{colSequence: b.Sequence})).
		ToSQL()
	if buildErr != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, buildErr)
	}

	if _, execErr := s.pool.Exec(ctx, upsertSQL); execErr != nil {
		return errors.Join(ErrSavingBookmarkFailed, execErr)
	}

	return nil
}

// BookmarksFor returns the bookmarks for all given names in input order;
// names never referenced before are reported at sequence 0 without being
// persisted.
func (s *Store) BookmarksFor(ctx context.Context, names []string) ([]bookmark.Bookmark, error) {
	selectSQL, _, buildErr := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(colName, colSequence).
		Where(goqu.C(colName).In(names)).
		ToSQL()
	if buildErr != nil {
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.pool.Query(ctx, selectSQL)
	if queryErr != nil {
		return nil, errors.Join(ErrReadingBookmarkFailed, queryErr)
	}
	defer rows.Close()

	found := make(map[string]eventstore.SequenceNumber, len(names))

	for rows.Next() {
		var name string
		var sequence int64

		if scanErr := rows.Scan(&name, &sequence); scanErr != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		found[name] = eventstore.SequenceNumber(sequence)
	}

	if rowsErr := rows.Err(); rowsErr != nil && !errors.Is(rowsErr, pgx.ErrNoRows) {
		return nil, errors.Join(ErrReadingBookmarkFailed, rowsErr)
	}

	bookmarks := make([]bookmark.Bookmark, 0, len(names))
	for _, name := range names {
		bookmarks = append(bookmarks, bookmark.Bookmark{Name: name, Sequence: found[name]})
	}

	return bookmarks, nil
}
