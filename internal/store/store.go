// Package store persists the file metadata held by the registry service in a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("store: record not found")

// SQL statements for the files table.
const (
	fileColumns = `id, file_name, absolute_path, device, device_ip, device_user,
		last_modified_time, created_time, size, file_type`

	sqlFindByPathDevice = `SELECT id, created_time FROM files
		WHERE absolute_path = ? AND device = ?`

	sqlInsertFile = `INSERT INTO files
		(file_name, absolute_path, device, device_ip, device_user,
		 last_modified_time, created_time, size, file_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateFile = `UPDATE files SET
		 file_name = ?,
		 device_ip = ?,
		 device_user = ?,
		 last_modified_time = ?,
		 size = ?,
		 file_type = ?
		WHERE id = ?`

	sqlGetFile    = `SELECT ` + fileColumns + ` FROM files WHERE id = ?`
	sqlListFiles  = `SELECT ` + fileColumns + ` FROM files ORDER BY id`
	sqlDeleteFile = `DELETE FROM files WHERE id = ?`

	sqlSearchFiles = `SELECT ` + fileColumns + ` FROM files
		WHERE file_name LIKE ? ESCAPE '\'
		ORDER BY file_name, id`

	sqlStats = `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files`
)

// Record is one registered file.
type Record struct {
	ID           int64
	FileName     string
	AbsolutePath string
	Device       string
	DeviceIP     string
	DeviceUser   string
	LastModified time.Time
	Created      time.Time
	Size         int64
	FileType     string
}

// Stats summarizes the table.
type Stats struct {
	TotalFiles     int64
	TotalSizeBytes int64
}

// Store is the registry database. It is safe for concurrent use; writes are
// serialized through a single connection.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the SQLite database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("registry store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert stores rec keyed by (AbsolutePath, Device). An existing record keeps
// its id and creation time; everything else is overwritten. It returns the
// stored record and whether it was newly created.
func (s *Store) Upsert(ctx context.Context, rec *Record) (*Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	out := *rec
	out.LastModified = rec.LastModified.UTC()

	var createdNanos int64

	err = tx.QueryRowContext(ctx, sqlFindByPathDevice, rec.AbsolutePath, rec.Device).Scan(&out.ID, &createdNanos)

	created := errors.Is(err, sql.ErrNoRows)

	switch {
	case created:
		out.Created = s.nowFunc().UTC()

		res, err := tx.ExecContext(ctx, sqlInsertFile,
			out.FileName, out.AbsolutePath, out.Device, out.DeviceIP, out.DeviceUser,
			out.LastModified.UnixNano(), out.Created.UnixNano(), out.Size, out.FileType)
		if err != nil {
			return nil, false, fmt.Errorf("store: inserting %s: %w", rec.AbsolutePath, err)
		}

		if out.ID, err = res.LastInsertId(); err != nil {
			return nil, false, fmt.Errorf("store: reading new id: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("store: looking up %s: %w", rec.AbsolutePath, err)
	default:
		out.Created = time.Unix(0, createdNanos).UTC()

		if _, err := tx.ExecContext(ctx, sqlUpdateFile,
			out.FileName, out.DeviceIP, out.DeviceUser,
			out.LastModified.UnixNano(), out.Size, out.FileType, out.ID); err != nil {
			return nil, false, fmt.Errorf("store: updating %s: %w", rec.AbsolutePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: committing upsert: %w", err)
	}

	return &out, created, nil
}

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqlGetFile, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading id %d: %w", id, err)
	}

	return rec, nil
}

// List returns every record in id order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, sqlListFiles)
}

// Search returns the records whose file name contains pattern, ignoring ASCII
// case. "*" in pattern matches any run of characters; every other character,
// including SQL wildcards, matches literally.
func (s *Store) Search(ctx context.Context, pattern string) ([]Record, error) {
	return s.query(ctx, sqlSearchFiles, "%"+likePattern(pattern)+"%")
}

// Delete removes the record with the given id and returns it, or ErrNotFound.
func (s *Store) Delete(ctx context.Context, id int64) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, sqlGetFile, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading id %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteFile, id); err != nil {
		return nil, fmt.Errorf("store: deleting id %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing delete: %w", err)
	}

	return rec, nil
}

// Stats returns the number of records and the sum of their sizes.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, sqlStats).Scan(&st.TotalFiles, &st.TotalSizeBytes); err != nil {
		return nil, fmt.Errorf("store: reading stats: %w", err)
	}

	return &st, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying files: %w", err)
	}
	defer rows.Close()

	records := []Record{}

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning file row: %w", err)
		}

		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating file rows: %w", err)
	}

	return records, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec           Record
		modifiedNanos int64
		createdNanos  int64
	)

	err := sc.Scan(&rec.ID, &rec.FileName, &rec.AbsolutePath, &rec.Device,
		&rec.DeviceIP, &rec.DeviceUser, &modifiedNanos, &createdNanos,
		&rec.Size, &rec.FileType)
	if err != nil {
		return nil, err
	}

	rec.LastModified = time.Unix(0, modifiedNanos).UTC()
	rec.Created = time.Unix(0, createdNanos).UTC()

	return &rec, nil
}

// likeEscaper escapes the LIKE metacharacters and the escape character itself.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a "*" wildcard pattern into a LIKE pattern using "\" as
// the escape character.
func likePattern(pattern string) string {
	return strings.ReplaceAll(likeEscaper.Replace(pattern), "*", "%")
}
