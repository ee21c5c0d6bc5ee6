package rfid

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
)

// Repository persists tags and the scan ledger.
type Repository interface {
	// CreateTag inserts a tag. Returns ErrTagExists for a duplicate tag id
	// and ErrOwnerNotFound when UserID names no user.
	CreateTag(ctx context.Context, tag *Tag) error

	// GetTag retrieves a tag by its normalised tag id.
	GetTag(ctx context.Context, tagID string) (*Tag, error)

	// ListTags retrieves all tags ordered by tag id.
	ListTags(ctx context.Context) ([]Tag, error)

	// UpdateTag writes the owner, active flag and metadata of a tag.
	UpdateTag(ctx context.Context, tag *Tag) error

	// DeleteTag removes a tag. Its scan records are kept.
	DeleteTag(ctx context.Context, tagID string) error

	// LookupForScan returns a tag and its owner in one read.
	// Owner is nil when the tag is unbound. Returns ErrTagNotFound.
	LookupForScan(ctx context.Context, tagID string) (*Tag, *Owner, error)

	// RecordScan appends a scan record.
	RecordScan(ctx context.Context, scan *Scan) error

	// RecordAcceptedScan appends a scan record and stamps the tag with the
	// scan time and device in the same transaction.
	RecordAcceptedScan(ctx context.Context, scan *Scan) error

	// ListScans retrieves scan records matching filter, newest first.
	ListScans(ctx context.Context, filter ScanFilter) ([]Scan, error)

	// ListUnregistered returns distinct unregistered tag ids seen since
	// the given time, most recent first.
	ListUnregistered(ctx context.Context, since time.Time, limit int) ([]UnregisteredTag, error)

	// CountByStatus counts scan records since the given time per status.
	CountByStatus(ctx context.Context, since time.Time) (map[Status]int, error)
}

// ScanFilter narrows ListScans. Zero fields are ignored.
type ScanFilter struct {
	TagID    string
	DeviceID string
	UserID   string
	Status   Status
	Since    time.Time
	Limit    int
}

// UnregisteredTag summarises failed scans of a tag that is not registered.
type UnregisteredTag struct {
	TagID    string    `json:"tagId"`
	DeviceID string    `json:"deviceId"`
	LastSeen time.Time `json:"lastSeen"`
	Count    int       `json:"count"`
}

// Default and maximum ListScans page sizes.
const (
	DefaultScanLimit = 50
	MaxScanLimit     = 200
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const tagColumns = `id, tag_id, user_id, is_active, last_scanned, device_id, registered_by, metadata, created_at, updated_at`

const scanColumns = `id, rfid_tag_id, device_id, user_id, event_type, status, location, vehicle_id, scan_time, metadata`

// CreateTag inserts a tag.
func (r *SQLiteRepository) CreateTag(ctx context.Context, t *Tag) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = "tag-" + uuid.NewString()[:8]
	}
	t.TagID = NormalizeTagID(t.TagID)
	t.CreatedAt = now
	t.UpdatedAt = now

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO rfids (`+tagColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TagID, database.NullString(t.UserID), database.BoolToInt(t.IsActive),
		database.NullTimestamp(t.LastScanned), database.NullString(t.DeviceID),
		database.NullString(t.RegisteredBy), meta, database.Timestamp(now), database.Timestamp(now),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrTagExists
		}
		if database.IsForeignKeyViolation(err) {
			return ErrOwnerNotFound
		}
		return fmt.Errorf("inserting tag: %w", err)
	}
	return nil
}

// GetTag retrieves a tag by its normalised tag id.
func (r *SQLiteRepository) GetTag(ctx context.Context, tagID string) (*Tag, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM rfids WHERE tag_id = ?`, NormalizeTagID(tagID))
	t, err := scanTag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTagNotFound
		}
		return nil, fmt.Errorf("querying tag: %w", err)
	}
	return t, nil
}

// ListTags retrieves all tags ordered by tag id.
func (r *SQLiteRepository) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM rfids ORDER BY tag_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return tags, nil
}

// UpdateTag writes the owner, active flag and metadata of a tag.
func (r *SQLiteRepository) UpdateTag(ctx context.Context, t *Tag) error {
	t.UpdatedAt = time.Now().UTC()
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE rfids SET user_id = ?, is_active = ?, metadata = ?, updated_at = ? WHERE tag_id = ?`,
		database.NullString(t.UserID), database.BoolToInt(t.IsActive), meta,
		database.Timestamp(t.UpdatedAt), NormalizeTagID(t.TagID),
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrOwnerNotFound
		}
		return fmt.Errorf("updating tag: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTagNotFound
	}
	return nil
}

// DeleteTag removes a tag. Its scan records are kept.
func (r *SQLiteRepository) DeleteTag(ctx context.Context, tagID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rfids WHERE tag_id = ?`, NormalizeTagID(tagID))
	if err != nil {
		return fmt.Errorf("deleting tag: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTagNotFound
	}
	return nil
}

// LookupForScan returns a tag and its owner in one read.
func (r *SQLiteRepository) LookupForScan(ctx context.Context, tagID string) (*Tag, *Owner, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT r.id, r.tag_id, r.user_id, r.is_active, r.last_scanned, r.device_id,
			r.registered_by, r.metadata, r.created_at, r.updated_at,
			u.id, u.name, u.role, u.is_active
		FROM rfids r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.tag_id = ?`, tagID)

	var tr tagRow
	var ownerID, ownerName, ownerRole sql.NullString
	var ownerActive sql.NullInt64
	err := row.Scan(tr.dest(&ownerID, &ownerName, &ownerRole, &ownerActive)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrTagNotFound
		}
		return nil, nil, fmt.Errorf("looking up tag: %w", err)
	}

	tag := tr.tag()
	if !ownerID.Valid {
		return tag, nil, nil
	}
	return tag, &Owner{
		ID:       ownerID.String,
		Name:     ownerName.String,
		Role:     ownerRole.String,
		IsActive: ownerActive.Int64 != 0,
	}, nil
}

// RecordScan appends a scan record.
func (r *SQLiteRepository) RecordScan(ctx context.Context, s *Scan) error {
	return insertScan(ctx, r.db.DB, s)
}

// RecordAcceptedScan appends a scan record and stamps the tag in one transaction.
func (r *SQLiteRepository) RecordAcceptedScan(ctx context.Context, s *Scan) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertScan(ctx, tx, s); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE rfids SET last_scanned = ?, device_id = ?, updated_at = ? WHERE tag_id = ?`,
			database.Timestamp(s.ScanTime), s.DeviceID, database.Timestamp(time.Now()), s.TagID,
		)
		if err != nil {
			return fmt.Errorf("stamping tag: %w", err)
		}
		return nil
	})
}

// ListScans retrieves scan records matching filter, newest first.
func (r *SQLiteRepository) ListScans(ctx context.Context, f ScanFilter) ([]Scan, error) {
	var (
		where []string
		args  []any
	)
	if f.TagID != "" {
		where = append(where, "rfid_tag_id = ?")
		args = append(args, NormalizeTagID(f.TagID))
	}
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "scan_time >= ?")
		args = append(args, database.Timestamp(f.Since))
	}

	query := `SELECT ` + scanColumns + ` FROM rfid_scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scan_time DESC, id LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	scans := []Scan{}
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan record: %w", err)
		}
		scans = append(scans, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scans: %w", err)
	}
	return scans, nil
}

// ListUnregistered returns distinct unregistered tag ids seen since the given time.
func (r *SQLiteRepository) ListUnregistered(ctx context.Context, since time.Time, limit int) ([]UnregisteredTag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.rfid_tag_id, MAX(s.scan_time) AS last_seen, COUNT(*),
			(SELECT device_id FROM rfid_scans d WHERE d.rfid_tag_id = s.rfid_tag_id
				ORDER BY d.scan_time DESC LIMIT 1)
		FROM rfid_scans s
		WHERE s.status = 'failed' AND s.scan_time >= ?
			AND NOT EXISTS (SELECT 1 FROM rfids WHERE rfids.tag_id = s.rfid_tag_id)
		GROUP BY s.rfid_tag_id
		ORDER BY last_seen DESC
		LIMIT ?`, database.Timestamp(since), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying unregistered tags: %w", err)
	}
	defer rows.Close()

	tags := []UnregisteredTag{}
	for rows.Next() {
		var u UnregisteredTag
		var lastSeen string
		if err := rows.Scan(&u.TagID, &lastSeen, &u.Count, &u.DeviceID); err != nil {
			return nil, fmt.Errorf("scanning unregistered tag: %w", err)
		}
		u.LastSeen = database.ParseTimestamp(lastSeen)
		tags = append(tags, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unregistered tags: %w", err)
	}
	return tags, nil
}

// CountByStatus counts scan records since the given time per status.
func (r *SQLiteRepository) CountByStatus(ctx context.Context, since time.Time) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM rfid_scans WHERE scan_time >= ? GROUP BY status`,
		database.Timestamp(since))
	if err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{StatusSuccess: 0, StatusFailed: 0, StatusUnauthorized: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertScan(ctx context.Context, db execer, s *Scan) error {
	if s.ID == "" {
		s.ID = "scn-" + uuid.NewString()
	}
	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO rfid_scans (`+scanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TagID, s.DeviceID, database.NullString(s.UserID), string(s.EventType),
		string(s.Status), database.NullString(s.Location), database.NullString(s.VehicleID),
		database.Timestamp(s.ScanTime), meta,
	)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type tagRow struct {
	t                          Tag
	userID, device, regBy      sql.NullString
	lastScanned                sql.NullString
	isActive                   int
	meta, createdAt, updatedAt string
}

func (tr *tagRow) dest(extra ...any) []any {
	d := []any{&tr.t.ID, &tr.t.TagID, &tr.userID, &tr.isActive, &tr.lastScanned,
		&tr.device, &tr.regBy, &tr.meta, &tr.createdAt, &tr.updatedAt}
	return append(d, extra...)
}

func (tr *tagRow) tag() *Tag {
	t := tr.t
	t.UserID = tr.userID.String
	t.IsActive = tr.isActive != 0
	t.LastScanned = database.ParseNullTimestamp(tr.lastScanned)
	t.DeviceID = tr.device.String
	t.RegisteredBy = tr.regBy.String
	t.Metadata = decodeMetadata(tr.meta)
	t.CreatedAt = database.ParseTimestamp(tr.createdAt)
	t.UpdatedAt = database.ParseTimestamp(tr.updatedAt)
	return &t
}

func scanTag(s rowScanner) (*Tag, error) {
	var tr tagRow
	if err := s.Scan(tr.dest()...); err != nil {
		return nil, err
	}
	return tr.tag(), nil
}

func scanScan(s rowScanner) (*Scan, error) {
	var sc Scan
	var userID, location, vehicleID sql.NullString
	var eventType, status, scanTime, meta string
	if err := s.Scan(&sc.ID, &sc.TagID, &sc.DeviceID, &userID, &eventType, &status,
		&location, &vehicleID, &scanTime, &meta); err != nil {
		return nil, err
	}
	sc.UserID = userID.String
	sc.EventType = EventType(eventType)
	sc.Status = Status(status)
	sc.Location = location.String
	sc.VehicleID = vehicleID.String
	sc.ScanTime = database.ParseTimestamp(scanTime)
	sc.Metadata = decodeMetadata(meta)
	return &sc, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]any {
	m := map[string]any{}
	if s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultScanLimit
	case n > MaxScanLimit:
		return MaxScanLimit
	}
	return n
}
