package domain

import "sort"

// Operation is the CRUD verb a tool performs.
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Targeted reports whether the operation addresses a single existing row.
func (o Operation) Targeted() bool {
	return o == OpGet || o == OpUpdate || o == OpDelete
}

// Tool is an entry of the closed tool vocabulary offered to the model.
type Tool struct {
	Name        string     `json:"name"`
	Collection  Collection `json:"collection"`
	Operation   Operation  `json:"operation"`
	Description string     `json:"description"`
	// ViaTrip tools address a deployment through its trip.
	ViaTrip bool `json:"-"`
}

var toolCatalog = buildCatalog()

func buildCatalog() map[string]Tool {
	tools := make(map[string]Tool)
	add := func(t Tool) { tools[t.Name] = t }

	plural := map[Collection]string{
		CollectionStops:       "stops",
		CollectionPaths:       "paths",
		CollectionRoutes:      "routes",
		CollectionVehicles:    "vehicles",
		CollectionDrivers:     "drivers",
		CollectionTrips:       "trips",
		CollectionDeployments: "deployments",
	}
	for _, c := range AllCollections {
		one := c.Singular()
		add(Tool{Name: "list_" + plural[c], Collection: c, Operation: OpList, Description: "List all active " + plural[c] + "."})
		add(Tool{Name: "get_" + one, Collection: c, Operation: OpGet, Description: "Get one " + one + " by id or name."})
		add(Tool{Name: "create_" + one, Collection: c, Operation: OpCreate, Description: "Create a " + one + "."})
		add(Tool{Name: "update_" + one, Collection: c, Operation: OpUpdate, Description: "Update fields of a " + one + " by id or name."})
		add(Tool{Name: "delete_" + one, Collection: c, Operation: OpDelete, Description: "Delete a " + one + " by id or name."})
	}

	add(Tool{
		Name:        "remove_vehicle_from_trip",
		Collection:  CollectionDeployments,
		Operation:   OpDelete,
		Description: "Remove the vehicle deployed on a trip, by trip id or trip name.",
		ViaTrip:     true,
	})
	add(Tool{
		Name:        "get_deployment_by_trip",
		Collection:  CollectionDeployments,
		Operation:   OpGet,
		Description: "Get the active deployment of a trip, by trip id or trip name.",
		ViaTrip:     true,
	})
	add(Tool{
		Name:        "get_trip_status",
		Collection:  CollectionTrips,
		Operation:   OpGet,
		Description: "Get a trip's status, bookings and live status by id or name.",
	})
	return tools
}

// LookupTool returns the catalog entry for name.
func LookupTool(name string) (Tool, bool) {
	t, ok := toolCatalog[name]
	return t, ok
}

// ToolsFor returns the tools operating on the given collections, sorted by name.
func ToolsFor(collections []Collection) []Tool {
	allowed := make(map[Collection]bool, len(collections))
	for _, c := range collections {
		allowed[c] = true
	}
	var out []Tool
	for _, t := range toolCatalog {
		if allowed[t.Collection] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IDKeys are the argument names that may carry the target's primary key.
func (t Tool) IDKeys() []string {
	if t.ViaTrip {
		return []string{"trip_id", "id"}
	}
	return []string{"id", primaryKeys[t.Collection]}
}

// NameKeys are the argument names that may carry the target's display name.
// The collection's own name column only addresses a target for reads and
// deletes, so an update can rename a row addressed by id.
func (t Tool) NameKeys() []string {
	if t.ViaTrip || t.Collection == CollectionDeployments {
		return []string{"trip_name", "trip", "name"}
	}
	keys := []string{"name", t.Collection.Singular() + "_name"}
	if t.Operation != OpUpdate {
		if col := nameColumns[t.Collection]; col != "" && col != "name" {
			keys = append(keys, col)
		}
	}
	return keys
}

// TargetKeys are all argument names used to address the target.
func (t Tool) TargetKeys() []string {
	return append(t.IDKeys(), t.NameKeys()...)
}

var primaryKeys = map[Collection]string{
	CollectionStops:       "stop_id",
	CollectionPaths:       "path_id",
	CollectionRoutes:      "route_id",
	CollectionVehicles:    "vehicle_id",
	CollectionDrivers:     "driver_id",
	CollectionTrips:       "trip_id",
	CollectionDeployments: "deployment_id",
}

var nameColumns = map[Collection]string{
	CollectionStops:    "name",
	CollectionPaths:    "path_name",
	CollectionRoutes:   "route_display_name",
	CollectionVehicles: "license_plate",
	CollectionDrivers:  "name",
	CollectionTrips:    "display_name",
}
