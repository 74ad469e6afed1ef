package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/fleetguard/internal/domain"
)

const seedActor = "seed"

// Seed loads demo data into an empty database.
func (s *SQLiteStore) Seed(ctx context.Context) error {
	var stops int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&stops); err != nil {
		return classify("count stops", err)
	}
	if stops > 0 {
		return nil
	}

	ids := make(map[string]int64)
	insert := func(c domain.Collection, key string, fields Record) error {
		id, err := s.Insert(ctx, c, fields, seedActor)
		if err != nil {
			return fmt.Errorf("seed %s %q: %w", c.Singular(), key, err)
		}
		ids[key] = id
		return nil
	}

	stopRows := []struct {
		name     string
		lat, lng float64
	}{
		{"Electronic City", 12.8456, 77.6633},
		{"Silk Board", 12.9150, 77.6250},
		{"Koramangala", 12.9352, 77.6245},
		{"Indiranagar", 12.9784, 77.6408},
		{"Majestic Bus Stand", 12.9774, 77.5711},
		{"MG Road", 12.9716, 77.5946},
		{"Whitefield", 12.9698, 77.7499},
		{"Hebbal", 13.0417, 77.5917},
	}
	for _, st := range stopRows {
		if err := insert(domain.CollectionStops, st.name, Record{"name": st.name, "latitude": st.lat, "longitude": st.lng}); err != nil {
			return err
		}
	}

	pathRows := []struct {
		key   string
		name  string
		stops []string
	}{
		{"ec", "PATH-EC-001: Electronic City Express", []string{"Electronic City", "Silk Board", "Koramangala", "Indiranagar"}},
		{"cw", "PATH-CW-002: Central to Whitefield", []string{"Majestic Bus Stand", "MG Road", "Indiranagar", "Whitefield"}},
		{"nh", "PATH-NH-003: Hebbal Shuttle", []string{"Hebbal", "MG Road"}},
	}
	for _, p := range pathRows {
		stopIDs := make([]int64, 0, len(p.stops))
		for _, name := range p.stops {
			stopIDs = append(stopIDs, ids[name])
		}
		if err := insert(domain.CollectionPaths, p.key, Record{"path_name": p.name, "ordered_list_of_stop_ids": stopIDs}); err != nil {
			return err
		}
	}

	routeRows := []struct {
		key, path, name, shift, direction, start, end string
	}{
		{"ec-up", "ec", "Electronic City - 08:00", "08:00", "UP", "Electronic City", "Indiranagar"},
		{"ec-down", "ec", "Electronic City - 18:30", "18:30", "DOWN", "Indiranagar", "Electronic City"},
		{"cw-up", "cw", "Whitefield - 09:15", "09:15", "UP", "Majestic Bus Stand", "Whitefield"},
	}
	for _, r := range routeRows {
		if err := insert(domain.CollectionRoutes, r.key, Record{
			"path_id":            ids[r.path],
			"route_display_name": r.name,
			"shift_time":         r.shift,
			"direction":          r.direction,
			"start_point":        r.start,
			"end_point":          r.end,
			"status":             "active",
		}); err != nil {
			return err
		}
	}

	vehicleRows := []struct {
		plate, kind string
		capacity    int
	}{
		{"KA-01-AB-1234", "Bus", 50},
		{"KA-01-CD-5678", "Bus", 50},
		{"KA-05-EF-9012", "Cab", 7},
		{"KA-03-GH-3456", "Bus", 40},
	}
	for _, v := range vehicleRows {
		if err := insert(domain.CollectionVehicles, v.plate, Record{"license_plate": v.plate, "type": v.kind, "capacity": v.capacity}); err != nil {
			return err
		}
	}

	driverRows := []struct{ name, phone string }{
		{"Ramesh Kumar", "+91-9876543210"},
		{"Suresh Gowda", "+91-9876543211"},
		{"Anita Rao", "+91-9876543212"},
	}
	for _, d := range driverRows {
		if err := insert(domain.CollectionDrivers, d.name, Record{"name": d.name, "phone_number": d.phone}); err != nil {
			return err
		}
	}

	tripRows := []struct {
		key, route, name, status, live string
		pct                            float64
		bookings                       int
	}{
		{"bulk", "ec-up", "Bulk - 00:01", domain.TripScheduled, "", 25, 12},
		{"ec-morning", "ec-up", "Electronic City - 08:00 Trip", domain.TripInProgress, "08:05 DEPARTED", 60, 30},
		{"ec-evening", "ec-down", "Electronic City - 18:30 Trip", domain.TripScheduled, "", 0, 0},
		{"wf-morning", "cw-up", "Whitefield - 09:15 Trip", domain.TripCancelled, "", 0, 0},
	}
	for _, t := range tripRows {
		if err := insert(domain.CollectionTrips, t.key, Record{
			"route_id":                  ids[t.route],
			"display_name":              t.name,
			"trip_date":                 s.now().Format("2006-01-02"),
			"booking_status_percentage": t.pct,
			"total_bookings":            t.bookings,
			"status":                    t.status,
			"live_status":               t.live,
		}); err != nil {
			return err
		}
	}

	deploymentRows := []struct{ key, trip, vehicle, driver string }{
		{"bulk", "bulk", "KA-01-AB-1234", "Ramesh Kumar"},
		{"ec-morning", "ec-morning", "KA-01-CD-5678", "Suresh Gowda"},
		{"ec-evening", "ec-evening", "KA-05-EF-9012", "Anita Rao"},
	}
	for _, d := range deploymentRows {
		if err := insert(domain.CollectionDeployments, "deployment:"+d.key, Record{
			"trip_id":    ids[d.trip],
			"vehicle_id": ids[d.vehicle],
			"driver_id":  ids[d.driver],
		}); err != nil {
			return err
		}
	}

	slog.Info("Seeded fleet database", "rows", len(ids))
	return nil
}
