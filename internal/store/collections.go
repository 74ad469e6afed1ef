package store

import (
	"fmt"
	"sort"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/containerd/errdefs"
)

type tableDef struct {
	pk      string
	nameCol string
	// writable columns; audit columns are managed by the store.
	columns []string
}

var tables = map[domain.Collection]tableDef{
	domain.CollectionStops: {
		pk:      "stop_id",
		nameCol: "name",
		columns: []string{"name", "latitude", "longitude", "address", "description"},
	},
	domain.CollectionPaths: {
		pk:      "path_id",
		nameCol: "path_name",
		columns: []string{"path_name", "ordered_list_of_stop_ids", "description", "total_distance_km", "estimated_duration_minutes"},
	},
	domain.CollectionRoutes: {
		pk:      "route_id",
		nameCol: "route_display_name",
		columns: []string{"path_id", "route_display_name", "shift_time", "direction", "start_point", "end_point", "status"},
	},
	domain.CollectionVehicles: {
		pk:      "vehicle_id",
		nameCol: "license_plate",
		columns: []string{"license_plate", "type", "capacity", "status"},
	},
	domain.CollectionDrivers: {
		pk:      "driver_id",
		nameCol: "name",
		columns: []string{"name", "phone_number", "license_number", "status"},
	},
	domain.CollectionTrips: {
		pk:      "trip_id",
		nameCol: "display_name",
		columns: []string{"route_id", "display_name", "trip_date", "booking_status_percentage", "total_bookings", "status", "live_status"},
	},
	domain.CollectionDeployments: {
		pk:      "deployment_id",
		columns: []string{"trip_id", "vehicle_id", "driver_id", "deployment_status"},
	},
}

// PrimaryKey returns the primary key column of a collection.
func PrimaryKey(c domain.Collection) string {
	return tables[c].pk
}

// NameColumn returns the display name column of a collection, or "" when
// rows have no name of their own.
func NameColumn(c domain.Collection) string {
	return tables[c].nameCol
}

// WritableColumns returns the fields callers may set on a collection.
func WritableColumns(c domain.Collection) []string {
	return append([]string(nil), tables[c].columns...)
}

func lookupTable(c domain.Collection) (tableDef, error) {
	def, ok := tables[c]
	if !ok {
		return tableDef{}, fmt.Errorf("unknown collection %q: %w", c, errdefs.ErrInvalidArgument)
	}
	return def, nil
}

// filterFields keeps writable fields in a stable order and rejects the rest.
func (d tableDef) filterFields(c domain.Collection, fields Record) ([]string, error) {
	writable := make(map[string]bool, len(d.columns))
	for _, col := range d.columns {
		writable[col] = true
	}
	cols := make([]string, 0, len(fields))
	for k := range fields {
		if !writable[k] {
			return nil, fmt.Errorf("%s has no writable field %q: %w", c.Singular(), k, errdefs.ErrInvalidArgument)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}
