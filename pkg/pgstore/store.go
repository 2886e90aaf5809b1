// Package pgstore keeps image metadata and saved annotations in PostgreSQL.
//
// Every image has one metadata row keyed by its storage path. A save replaces
// all annotation rows of the image in one transaction.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/storage"
)

// Status is the review state of an image
type Status string

// Images move through these states as they are assigned and reviewed
const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusReview     Status = "review"
	StatusConfirmed  Status = "confirmed"
)

// ErrStatus is returned for a status outside the review workflow
var ErrStatus = errors.New("unknown image status")

// ParseStatus validates a status name
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUnassigned, StatusAssigned, StatusReview, StatusConfirmed:
		return st, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrStatus)
}

// Config selects the database and the names recorded on writes
type Config struct {
	DSN string `json:"dsn"`
	// Project is recorded as the project name of newly registered images
	Project string `json:"project"`
	// User is recorded as creator and last modifier
	User string `json:"user"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		id BIGSERIAL PRIMARY KEY,
		filename TEXT NOT NULL,
		project_name TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'unassigned',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		assigned_by TEXT,
		last_modified_by TEXT,
		last_modified_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS annotations (
		id BIGSERIAL PRIMARY KEY,
		info_id BIGINT NOT NULL REFERENCES metadata(id) ON DELETE CASCADE,
		label TEXT NOT NULL DEFAULT '',
		bbox JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS annotations_info_id_idx ON annotations (info_id)`,
}

// Store is safe for concurrent use
type Store struct {
	db      *sql.DB
	project string
	user    string
	now     func() time.Time

	schemaOnce sync.Once
	schemaErr  error

	ids *lru.Cache[string, int64]
}

// New opens the database at cfg.DSN and checks that it answers
func New(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ids, err := lru.New[string, int64](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		project: strings.TrimSpace(cfg.Project),
		user:    strings.TrimSpace(cfg.User),
		now:     time.Now,
		ids:     ids,
	}, nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		for _, stmt := range schema {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.schemaErr = fmt.Errorf("create schema: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

// RegisterImage records image with its pixel size unless it is already known
// and returns its id.
func (s *Store) RegisterImage(ctx context.Context, image string, size [2]int) (int64, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO metadata (filename, project_name, storage_path, width, height, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (storage_path) DO UPDATE SET storage_path = EXCLUDED.storage_path
		RETURNING id`,
		Filename(image), s.project, image, size[0], size[1], s.user,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", image, err)
	}
	s.ids.Add(image, id)
	return id, nil
}

// ImageID returns the metadata id of image, or storage.ErrNotFound
func (s *Store) ImageID(ctx context.Context, image string) (int64, error) {
	if id, ok := s.ids.Get(image); ok {
		return id, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM metadata WHERE storage_path = $1`, image).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("look up %s: %w", image, err)
	}
	s.ids.Add(image, id)
	return id, nil
}

// SetStatus moves image to status. Assigning also records who assigned it.
func (s *Store) SetStatus(ctx context.Context, image string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE metadata
		SET status = $1,
			assigned_by = CASE WHEN $1 = 'assigned' THEN $2 ELSE assigned_by END,
			last_modified_by = $2,
			last_modified_at = $3
		WHERE storage_path = $4`,
		string(status), s.user, s.now().UTC(), image,
	)
	if err != nil {
		return fmt.Errorf("set status of %s: %w", image, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ImageStatus returns the review state of image
func (s *Store) ImageStatus(ctx context.Context, image string) (Status, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM metadata WHERE storage_path = $1`, image).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("status of %s: %w", image, err)
	}
	return Status(st), nil
}

// DeleteImage removes image and its annotations
func (s *Store) DeleteImage(ctx context.Context, image string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.ids.Remove(image)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE storage_path = $1`, image); err != nil {
		return fmt.Errorf("delete %s: %w", image, err)
	}
	return nil
}

// PutAnnotations replaces the saved boxes of image with those in payload, a
// saved annotation document. The image status is left as it is.
func (s *Store) PutAnnotations(ctx context.Context, image string, payload []byte) (string, error) {
	doc, err := decodeDocument(payload)
	if err != nil {
		return "", err
	}
	rows, err := encodeRows(doc.Boxes)
	if err != nil {
		return "", err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO metadata (filename, project_name, storage_path, width, height, created_by, last_modified_by, last_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (storage_path) DO UPDATE
		SET width = EXCLUDED.width,
			height = EXCLUDED.height,
			last_modified_by = EXCLUDED.last_modified_by,
			last_modified_at = EXCLUDED.last_modified_at
		RETURNING id`,
		Filename(image), s.project, image, doc.ImageSize[0], doc.ImageSize[1], s.user, savedAt(doc, s.now),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save metadata of %s: %w", image, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE info_id = $1`, id); err != nil {
		return "", fmt.Errorf("clear annotations of %s: %w", image, err)
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO annotations (info_id, label, bbox) VALUES ($1, $2, $3::jsonb)`, id, r.label, r.bbox); err != nil {
			return "", fmt.Errorf("insert annotation of %s: %w", image, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit save of %s: %w", image, err)
	}
	s.ids.Add(image, id)
	return image, nil
}

// GetAnnotations rebuilds the saved annotation document of image. It returns
// storage.ErrNotFound when the image was never registered.
func (s *Store) GetAnnotations(ctx context.Context, image string) ([]byte, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var (
		id       int64
		w, h     int
		modified sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, width, height, last_modified_at FROM metadata WHERE storage_path = $1`, image,
	).Scan(&id, &w, &h, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata of %s: %w", image, err)
	}

	q, err := s.db.QueryContext(ctx, `SELECT label, bbox::text FROM annotations WHERE info_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load annotations of %s: %w", image, err)
	}
	defer q.Close()

	var rows []row
	for q.Next() {
		var r row
		if err := q.Scan(&r.label, &r.bbox); err != nil {
			return nil, fmt.Errorf("scan annotation of %s: %w", image, err)
		}
		rows = append(rows, r)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("load annotations of %s: %w", image, err)
	}
	return buildDocument(image, [2]int{w, h}, modified.Time, rows)
}

// Filename is the base name recorded for a local path or s3:// URL
func Filename(image string) string {
	if i := strings.IndexAny(image, "?#"); i >= 0 && strings.Contains(image, "://") {
		image = image[:i]
	}
	return path.Base(strings.ReplaceAll(image, "\\", "/"))
}

type document struct {
	Image     string            `json:"image"`
	ImageSize [2]int            `json:"image_size"`
	SavedAt   time.Time         `json:"saved_at"`
	Boxes     []bridge.BoxState `json:"boxes"`
}

type row struct {
	label string
	bbox  string
}

func decodeDocument(payload []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return document{}, fmt.Errorf("decode annotation: %w", err)
	}
	return doc, nil
}

func savedAt(doc document, now func() time.Time) time.Time {
	if doc.SavedAt.IsZero() {
		return now().UTC()
	}
	return doc.SavedAt.UTC()
}

func encodeRows(boxes []bridge.BoxState) ([]row, error) {
	rows := make([]row, 0, len(boxes))
	for _, b := range boxes {
		raw, err := json.Marshal(b.BBox)
		if err != nil {
			return nil, fmt.Errorf("encode bbox of %s: %w", b.ID, err)
		}
		rows = append(rows, row{label: b.Label, bbox: string(raw)})
	}
	return rows, nil
}

// buildDocument numbers boxes in row order, matching the ids a session assigns on load
func buildDocument(image string, size [2]int, saved time.Time, rows []row) ([]byte, error) {
	doc := document{
		Image:     image,
		ImageSize: size,
		SavedAt:   saved.UTC(),
		Boxes:     make([]bridge.BoxState, 0, len(rows)),
	}
	for i, r := range rows {
		var bbox [4]float64
		if err := json.Unmarshal([]byte(r.bbox), &bbox); err != nil {
			return nil, fmt.Errorf("decode bbox %d of %s: %w", i, image, err)
		}
		doc.Boxes = append(doc.Boxes, bridge.BoxState{ID: fmt.Sprintf("bbox-%d", i), BBox: bbox, Label: r.label})
	}
	return json.MarshalIndent(doc, "", "  ")
}
