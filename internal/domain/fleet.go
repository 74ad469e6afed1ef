// Package domain contains core domain types for the fleet guard service.
package domain

import (
	"sort"
	"time"
)

// Collection names a fleet table.
type Collection string

const (
	CollectionStops       Collection = "stops"
	CollectionPaths       Collection = "paths"
	CollectionRoutes      Collection = "routes"
	CollectionVehicles    Collection = "vehicles"
	CollectionDrivers     Collection = "drivers"
	CollectionTrips       Collection = "daily_trips"
	CollectionDeployments Collection = "deployments"
)

// AllCollections lists every known collection.
var AllCollections = []Collection{
	CollectionStops,
	CollectionPaths,
	CollectionRoutes,
	CollectionVehicles,
	CollectionDrivers,
	CollectionTrips,
	CollectionDeployments,
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, known := range AllCollections {
		if c == known {
			return true
		}
	}
	return false
}

// Singular returns the human noun for one row of the collection.
func (c Collection) Singular() string {
	switch c {
	case CollectionStops:
		return "stop"
	case CollectionPaths:
		return "path"
	case CollectionRoutes:
		return "route"
	case CollectionVehicles:
		return "vehicle"
	case CollectionDrivers:
		return "driver"
	case CollectionTrips:
		return "trip"
	case CollectionDeployments:
		return "deployment"
	default:
		return string(c)
	}
}

// SortCollections sorts in place by name.
func SortCollections(cs []Collection) {
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
}

// Trip status values.
const (
	TripScheduled  = "scheduled"
	TripInProgress = "in_progress"
	TripCompleted  = "completed"
	TripCancelled  = "cancelled"
)

// Trip is a live daily trip row.
type Trip struct {
	TripID            int64     `json:"trip_id"`
	RouteID           int64     `json:"route_id"`
	DisplayName       string    `json:"display_name"`
	TripDate          string    `json:"trip_date"`
	BookingPercentage float64   `json:"booking_status_percentage"`
	TotalBookings     int       `json:"total_bookings"`
	Status            string    `json:"status"`
	LiveStatus        string    `json:"live_status"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Live reports whether the trip is currently running.
func (t *Trip) Live() bool {
	return t.Status == TripInProgress
}

// Deployment assigns a vehicle and driver to a trip.
type Deployment struct {
	DeploymentID int64     `json:"deployment_id"`
	TripID       int64     `json:"trip_id"`
	VehicleID    int64     `json:"vehicle_id"`
	DriverID     int64     `json:"driver_id"`
	Status       string    `json:"deployment_status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RouteTripStats counts the non-cancelled trips on a route.
type RouteTripStats struct {
	ActiveTrips int
	BookedTrips int
}
