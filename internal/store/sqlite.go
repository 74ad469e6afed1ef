package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/shared"
	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed fleet repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas are applied per pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS stops (
		stop_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		address TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);

	CREATE TABLE IF NOT EXISTS paths (
		path_id INTEGER PRIMARY KEY AUTOINCREMENT,
		path_name TEXT NOT NULL,
		ordered_list_of_stop_ids TEXT NOT NULL DEFAULT '[]',
		description TEXT,
		total_distance_km REAL,
		estimated_duration_minutes INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);

	CREATE TABLE IF NOT EXISTS routes (
		route_id INTEGER PRIMARY KEY AUTOINCREMENT,
		path_id INTEGER NOT NULL REFERENCES paths(path_id),
		route_display_name TEXT NOT NULL,
		shift_time TEXT,
		direction TEXT,
		start_point TEXT,
		end_point TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_routes_path ON routes(path_id) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS vehicles (
		vehicle_id INTEGER PRIMARY KEY AUTOINCREMENT,
		license_plate TEXT NOT NULL,
		type TEXT,
		capacity INTEGER,
		status TEXT NOT NULL DEFAULT 'available',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_vehicles_plate ON vehicles(license_plate) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS drivers (
		driver_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone_number TEXT,
		license_number TEXT,
		status TEXT NOT NULL DEFAULT 'available',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);

	CREATE TABLE IF NOT EXISTS daily_trips (
		trip_id INTEGER PRIMARY KEY AUTOINCREMENT,
		route_id INTEGER NOT NULL REFERENCES routes(route_id),
		display_name TEXT NOT NULL,
		trip_date TEXT,
		booking_status_percentage REAL NOT NULL DEFAULT 0,
		total_bookings INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'scheduled',
		live_status TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trips_route ON daily_trips(route_id) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS deployments (
		deployment_id INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id INTEGER NOT NULL REFERENCES daily_trips(trip_id),
		vehicle_id INTEGER NOT NULL REFERENCES vehicles(vehicle_id),
		driver_id INTEGER NOT NULL REFERENCES drivers(driver_id),
		deployment_status TEXT NOT NULL DEFAULT 'assigned',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		deleted_at INTEGER,
		deleted_by TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_trip ON deployments(trip_id) WHERE deleted_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto errdefs classes.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsSQLiteConflictError(err):
		return fmt.Errorf("%s: %w: %w", op, errdefs.ErrUnavailable, err)
	case shared.IsSQLiteConstraintError(err):
		return fmt.Errorf("%s: %w: %w", op, errdefs.ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func notFound(c domain.Collection, id int64) error {
	return fmt.Errorf("%s %d: %w", c.Singular(), id, errdefs.ErrNotFound)
}

// List returns all live rows of a collection.
func (s *SQLiteStore) List(ctx context.Context, c domain.Collection) ([]Record, error) {
	def, err := lookupTable(c)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE deleted_at IS NULL ORDER BY %s`, c, def.pk)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list "+string(c), err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Get returns one live row.
func (s *SQLiteStore) Get(ctx context.Context, c domain.Collection, id int64) (Record, error) {
	def, err := lookupTable(c)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = ? AND deleted_at IS NULL`, c, def.pk)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, classify("get "+c.Singular(), err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound(c, id)
	}
	return records[0], nil
}

// Insert creates a row and returns its primary key.
func (s *SQLiteStore) Insert(ctx context.Context, c domain.Collection, fields Record, actor string) (int64, error) {
	def, err := lookupTable(c)
	if err != nil {
		return 0, err
	}
	cols, err := def.filterFields(c, fields)
	if err != nil {
		return 0, err
	}

	now := s.now().Unix()
	names := append(cols, "created_at", "updated_at", "created_by", "updated_by")
	args := make([]any, 0, len(names))
	for _, col := range cols {
		v, err := encodeValue(col, fields[col])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
	}
	args = append(args, now, now, actor, actor)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, c, strings.Join(names, ", "), placeholders)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("insert "+c.Singular(), err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted id: %w", err)
	}
	return id, nil
}

// Update changes writable fields of a live row.
func (s *SQLiteStore) Update(ctx context.Context, c domain.Collection, id int64, fields Record, actor string) error {
	def, err := lookupTable(c)
	if err != nil {
		return err
	}
	cols, err := def.filterFields(c, fields)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("update %s %d: no fields: %w", c.Singular(), id, errdefs.ErrInvalidArgument)
	}

	sets := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+3)
	for _, col := range cols {
		v, err := encodeValue(col, fields[col])
		if err != nil {
			return err
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = ?", "updated_by = ?")
	args = append(args, s.now().Unix(), actor, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ? AND deleted_at IS NULL`, c, strings.Join(sets, ", "), def.pk)
	return s.execOne(ctx, "update "+c.Singular(), c, id, query, args...)
}

// SoftDelete marks a live row deleted.
func (s *SQLiteStore) SoftDelete(ctx context.Context, c domain.Collection, id int64, actor string) error {
	def, err := lookupTable(c)
	if err != nil {
		return err
	}

	now := s.now().Unix()
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = ?, deleted_by = ?, updated_at = ?, updated_by = ? WHERE %s = ? AND deleted_at IS NULL`, c, def.pk)
	if err := s.execOne(ctx, "delete "+c.Singular(), c, id, query, now, actor, now, actor, id); err != nil {
		return err
	}
	slog.Info("Soft deleted row", "collection", c, "id", id, "actor", actor)
	return nil
}

func (s *SQLiteStore) execOne(ctx context.Context, op string, c domain.Collection, id int64, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(c, id)
	}
	return nil
}

// FindByName matches live rows by display name.
func (s *SQLiteStore) FindByName(ctx context.Context, c domain.Collection, name string) ([]Match, error) {
	def, err := lookupTable(c)
	if err != nil {
		return nil, err
	}
	if def.nameCol == "" {
		return nil, fmt.Errorf("%s rows have no name: %w", c.Singular(), errdefs.ErrInvalidArgument)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	exact := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE deleted_at IS NULL AND LOWER(%s) = LOWER(?) ORDER BY %s`,
		def.pk, def.nameCol, c, def.nameCol, def.pk)
	matches, err := s.queryMatches(ctx, exact, name)
	if err != nil || len(matches) > 0 {
		return matches, err
	}

	partial := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE deleted_at IS NULL AND instr(LOWER(%s), LOWER(?)) > 0 ORDER BY %s`,
		def.pk, def.nameCol, c, def.nameCol, def.pk)
	return s.queryMatches(ctx, partial, name)
}

func (s *SQLiteStore) queryMatches(ctx context.Context, query string, args ...any) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find by name", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Label); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GetTrip returns a live trip.
func (s *SQLiteStore) GetTrip(ctx context.Context, tripID int64) (*domain.Trip, error) {
	query := `
		SELECT trip_id, route_id, display_name, COALESCE(trip_date, ''),
		       booking_status_percentage, total_bookings, status,
		       COALESCE(live_status, ''), updated_at
		FROM daily_trips WHERE trip_id = ? AND deleted_at IS NULL`

	var trip domain.Trip
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, tripID).Scan(
		&trip.TripID, &trip.RouteID, &trip.DisplayName, &trip.TripDate,
		&trip.BookingPercentage, &trip.TotalBookings, &trip.Status,
		&trip.LiveStatus, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.CollectionTrips, tripID)
	}
	if err != nil {
		return nil, classify("get trip", err)
	}
	trip.UpdatedAt = time.Unix(updatedAt, 0)
	return &trip, nil
}

const deploymentColumns = `deployment_id, trip_id, vehicle_id, driver_id, deployment_status, updated_at`

func scanDeployment(row *sql.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var updatedAt int64
	if err := row.Scan(&d.DeploymentID, &d.TripID, &d.VehicleID, &d.DriverID, &d.Status, &updatedAt); err != nil {
		return nil, err
	}
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return &d, nil
}

// GetDeployment returns a live deployment.
func (s *SQLiteStore) GetDeployment(ctx context.Context, deploymentID int64) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE deployment_id = ? AND deleted_at IS NULL`
	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, deploymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.CollectionDeployments, deploymentID)
	}
	if err != nil {
		return nil, classify("get deployment", err)
	}
	return d, nil
}

// ActiveDeploymentForTrip returns the live deployment of a trip.
func (s *SQLiteStore) ActiveDeploymentForTrip(ctx context.Context, tripID int64) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE trip_id = ? AND deleted_at IS NULL`
	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, tripID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment for trip %d: %w", tripID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get deployment for trip", err)
	}
	return d, nil
}

// RouteTripStats counts non-cancelled trips on a route and how many are booked.
func (s *SQLiteStore) RouteTripStats(ctx context.Context, routeID int64) (domain.RouteTripStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN booking_status_percentage > 0 OR total_bookings > 0 THEN 1 ELSE 0 END), 0)
		FROM daily_trips
		WHERE route_id = ? AND deleted_at IS NULL AND status != ?`

	var stats domain.RouteTripStats
	if err := s.db.QueryRowContext(ctx, query, routeID, domain.TripCancelled).Scan(&stats.ActiveTrips, &stats.BookedTrips); err != nil {
		return domain.RouteTripStats{}, classify("count route trips", err)
	}
	return stats, nil
}

// CountRoutesUsingPath counts live routes referencing a path.
func (s *SQLiteStore) CountRoutesUsingPath(ctx context.Context, pathID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes WHERE path_id = ? AND deleted_at IS NULL`, pathID).Scan(&n)
	if err != nil {
		return 0, classify("count path routes", err)
	}
	return n, nil
}

func encodeValue(col string, v any) (any, error) {
	if col != "ordered_list_of_stop_ids" {
		return v, nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", col, errdefs.ErrInvalidArgument)
	}
	return string(data), nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var records []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col] = decodeValue(col, vals[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate rows", err)
	}
	return records, nil
}

func decodeValue(col string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch {
	case col == "ordered_list_of_stop_ids":
		s, ok := v.(string)
		if !ok {
			return v
		}
		var ids []int64
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return s
		}
		return ids
	case strings.HasSuffix(col, "_at"):
		if ts, ok := v.(int64); ok {
			return time.Unix(ts, 0).UTC().Format(time.RFC3339)
		}
	}
	return v
}
