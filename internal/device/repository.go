package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Create inserts a new device.
	// Returns ErrDeviceExists if the device id or MAC address is already registered.
	Create(ctx context.Context, device *Device) error

	// GetByDeviceID retrieves a device by its MAC-derived device id.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)

	// List retrieves all devices, most recently seen first.
	List(ctx context.Context) ([]Device, error)

	// ListActive retrieves devices whose active flag is set.
	ListActive(ctx context.Context) ([]Device, error)

	// Update writes every mutable field of an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, device_id, mac_address, name, location, api_key_hash, is_active,
	registration_mode, pending_registration_tag_id, scan_mode, last_seen, created_at, updated_at`

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = GenerateID("dev")
	}
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DeviceID, d.MACAddress, d.Name, d.Location, d.APIKeyHash,
		database.BoolToInt(d.IsActive), database.BoolToInt(d.RegistrationMode),
		database.NullString(d.PendingRegistrationTagID), database.BoolToInt(d.ScanMode),
		database.NullTimestamp(d.LastSeen), database.Timestamp(now), database.Timestamp(now),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByDeviceID retrieves a device by its MAC-derived device id.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List retrieves all devices, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices
		ORDER BY last_seen IS NULL, last_seen DESC, device_id`)
}

// ListActive retrieves devices whose active flag is set.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE is_active = 1 ORDER BY created_at`)
}

// Update writes every mutable field of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, location = ?, api_key_hash = ?, is_active = ?,
			registration_mode = ?, pending_registration_tag_id = ?, scan_mode = ?,
			last_seen = ?, updated_at = ?
		WHERE device_id = ?`,
		d.Name, d.Location, d.APIKeyHash, database.BoolToInt(d.IsActive),
		database.BoolToInt(d.RegistrationMode), database.NullString(d.PendingRegistrationTagID),
		database.BoolToInt(d.ScanMode), database.NullTimestamp(d.LastSeen),
		database.Timestamp(d.UpdatedAt), d.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*Device, error) {
	var d Device
	var isActive, regMode, scanMode int
	var pending, lastSeen sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(&d.ID, &d.DeviceID, &d.MACAddress, &d.Name, &d.Location, &d.APIKeyHash,
		&isActive, &regMode, &pending, &scanMode, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.IsActive = isActive != 0
	d.RegistrationMode = regMode != 0
	d.ScanMode = scanMode != 0
	d.PendingRegistrationTagID = pending.String
	d.LastSeen = database.ParseNullTimestamp(lastSeen)
	d.CreatedAt = database.ParseTimestamp(createdAt)
	d.UpdatedAt = database.ParseTimestamp(updatedAt)
	return &d, nil
}
