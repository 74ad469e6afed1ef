package domain

import (
	"maps"
	"time"
)

// ActionKind is the closed set of guarded action kinds.
type ActionKind string

const (
	KindDeleteDeployment ActionKind = "delete_deployment"
	KindDeleteTrip       ActionKind = "delete_trip"
	KindDeleteRoute      ActionKind = "delete_route"
	KindDeletePath       ActionKind = "delete_path"
	KindBenign           ActionKind = "benign"
)

// Destructive reports whether the kind requires consequence evaluation.
func (k ActionKind) Destructive() bool {
	switch k {
	case KindDeleteDeployment, KindDeleteTrip, KindDeleteRoute, KindDeletePath:
		return true
	default:
		return false
	}
}

// ToolCall is a call proposed by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// EntityRef identifies a resolved row.
type EntityRef struct {
	Collection Collection `json:"collection"`
	ID         int64      `json:"id"`
	Label      string     `json:"label"`
}

// ResolvedCall is a classified tool call with its target resolved.
type ResolvedCall struct {
	Tool   Tool
	Call   ToolCall
	Kind   ActionKind
	Target *EntityRef
}

// PendingAction is a destructive call awaiting operator confirmation.
type PendingAction struct {
	ID           string              `json:"id"`
	Kind         ActionKind          `json:"kind"`
	Collection   Collection          `json:"collection"`
	TargetID     int64               `json:"target_id"`
	TargetLabel  string              `json:"target_label"`
	Call         ResolvedCall        `json:"-"`
	Consequences *ConsequenceSummary `json:"consequences,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Attempts     int                 `json:"attempts"`
}

// Clone returns a copy that shares no mutable state with p.
func (p *PendingAction) Clone() *PendingAction {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Call = p.Call.Clone()
	if p.Consequences != nil {
		c := *p.Consequences
		cp.Consequences = &c
	}
	return &cp
}

// Clone returns a deep copy of the call.
func (c ResolvedCall) Clone() ResolvedCall {
	cp := c
	cp.Call.Args = maps.Clone(c.Call.Args)
	if c.Target != nil {
		t := *c.Target
		cp.Target = &t
	}
	return cp
}

// ConsequenceSummary is the structured downstream impact of a destructive action.
type ConsequenceSummary struct {
	Kind        ActionKind `json:"kind"`
	TargetLabel string     `json:"target_label"`

	// Trip facts (deployment removal, trip deletion).
	TripID              int64   `json:"trip_id,omitempty"`
	TripName            string  `json:"trip_name,omitempty"`
	BookingPercentage   float64 `json:"booking_percentage,omitempty"`
	TotalBookings       int     `json:"total_bookings,omitempty"`
	TripStatus          string  `json:"trip_status,omitempty"`
	LiveStatus          string  `json:"live_status,omitempty"`
	TripLive            bool    `json:"trip_live,omitempty"`
	HasActiveDeployment bool    `json:"has_active_deployment,omitempty"`

	// Dependent counts (route and path deletion).
	ActiveTrips       int `json:"active_trips,omitempty"`
	BookedTrips       int `json:"booked_trips,omitempty"`
	ReferencingRoutes int `json:"referencing_routes,omitempty"`

	// Unknown is set when the impact could not be read.
	Unknown bool   `json:"unknown,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HasImpact reports whether the summary warrants a confirmation round-trip.
// An unknown impact always does.
func (c ConsequenceSummary) HasImpact() bool {
	if c.Unknown {
		return true
	}
	switch c.Kind {
	case KindDeleteDeployment:
		return c.BookingPercentage > 0 || c.TotalBookings > 0 || c.TripLive
	case KindDeleteTrip:
		return c.BookingPercentage > 0 || c.TotalBookings > 0 || c.HasActiveDeployment
	case KindDeleteRoute:
		return c.ActiveTrips > 0 || c.BookedTrips > 0
	case KindDeletePath:
		return c.ReferencingRoutes > 0
	default:
		return false
	}
}

// VisionContext is the entity hint extracted from an uploaded image.
type VisionContext struct {
	EntityName         string     `json:"entity_name"`
	SuggestedOperation string     `json:"suggested_operation"`
	Confidence         float64    `json:"confidence"`
	Reasoning          string     `json:"reasoning,omitempty"`
	Resolved           *EntityRef `json:"resolved,omitempty"`
	Note               string     `json:"note,omitempty"`
	ImageRef           string     `json:"image_ref,omitempty"`
	CarryForward       bool       `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Identified reports whether the image resolved to a concrete row.
func (v *VisionContext) Identified() bool {
	return v != nil && v.Resolved != nil && v.Confidence > 0
}

// Clone returns a copy that shares no mutable state with v.
func (v *VisionContext) Clone() *VisionContext {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Resolved != nil {
		r := *v.Resolved
		cp.Resolved = &r
	}
	return &cp
}
