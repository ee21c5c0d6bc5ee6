package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filter controls which events List returns.
type Filter struct {
	Type     EventType // optional
	Severity Severity  // optional
	Account  string    // optional
	DeviceID string    // optional
	Since    time.Time // optional
	Limit    int       // default 50, max 200
	Offset   int
}

// ListResult contains a page of events.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for security event storage.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the security_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new security event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an event. ID, Severity and CreatedAt are filled in if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = "sec-" + uuid.NewString()[:8]
	}
	if e.Severity == "" {
		e.Severity = DefaultSeverity(e.Type)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (id, event_type, severity, account, user_id, device_id,
			ip_address, user_agent, endpoint, method, message, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), string(e.Severity),
		database.NullString(e.Account), database.NullString(e.UserID), database.NullString(e.DeviceID),
		database.NullString(e.IPAddress), database.NullString(e.UserAgent),
		database.NullString(e.Endpoint), database.NullString(e.Method),
		e.Message, details, database.Timestamp(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, filter.Account)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, database.Timestamp(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM security_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, event_type, severity, account, user_id, device_id, ip_address, user_agent,
			endpoint, method, message, details, created_at
		 FROM security_events %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var eventType, severity, createdAt string
		var account, userID, deviceID, ip, ua, endpoint, method, details sql.NullString

		if err := rows.Scan(&e.ID, &eventType, &severity, &account, &userID, &deviceID,
			&ip, &ua, &endpoint, &method, &e.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}

		e.Type = EventType(eventType)
		e.Severity = Severity(severity)
		e.Account = account.String
		e.UserID = userID.String
		e.DeviceID = deviceID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		e.Endpoint = endpoint.String
		e.Method = method.String
		if details.Valid && details.String != "" {
			var d map[string]any
			if json.Unmarshal([]byte(details.String), &d) == nil {
				e.Details = d
			}
		}
		e.CreatedAt = database.ParseTimestamp(createdAt)

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
