package guard

import (
	"testing"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRenderWarningIncludesFigures(t *testing.T) {
	tests := []struct {
		name    string
		pending *domain.PendingAction
		want    []string
	}{
		{
			name: "deployment",
			pending: &domain.PendingAction{
				Kind:        domain.KindDeleteDeployment,
				TargetLabel: "Bulk - 00:01",
				Consequences: &domain.ConsequenceSummary{
					Kind:              domain.KindDeleteDeployment,
					TripName:          "Bulk - 00:01",
					BookingPercentage: 25,
					TotalBookings:     12,
				},
			},
			want: []string{"remove the vehicle from 'Bulk - 00:01'", "25% booked", "12 bookings", "(yes/no)"},
		},
		{
			name: "live trip",
			pending: &domain.PendingAction{
				Kind:        domain.KindDeleteTrip,
				TargetLabel: "Morning",
				Consequences: &domain.ConsequenceSummary{
					Kind:                domain.KindDeleteTrip,
					BookingPercentage:   37.5,
					TotalBookings:       1,
					TripLive:            true,
					LiveStatus:          "08:05 DEPARTED",
					HasActiveDeployment: true,
				},
			},
			want: []string{"37.5% booked", "1 booking)", "08:05 DEPARTED", "vehicle is still deployed"},
		},
		{
			name: "route",
			pending: &domain.PendingAction{
				Kind:         domain.KindDeleteRoute,
				TargetLabel:  "Electronic City - 08:00",
				Consequences: &domain.ConsequenceSummary{Kind: domain.KindDeleteRoute, ActiveTrips: 2, BookedTrips: 1},
			},
			want: []string{"route 'Electronic City - 08:00'", "2 active trips", "1 of them with bookings"},
		},
		{
			name: "path",
			pending: &domain.PendingAction{
				Kind:         domain.KindDeletePath,
				TargetLabel:  "PATH-EC-001",
				Consequences: &domain.ConsequenceSummary{Kind: domain.KindDeletePath, ReferencingRoutes: 2},
			},
			want: []string{"path 'PATH-EC-001'", "used by 2 routes"},
		},
		{
			name: "unknown",
			pending: &domain.PendingAction{
				Kind:         domain.KindDeletePath,
				TargetLabel:  "PATH-EC-001",
				Consequences: &domain.ConsequenceSummary{Kind: domain.KindDeletePath, Unknown: true, Reason: "database is locked"},
			},
			want: []string{"Impact unknown", "database is locked", "(yes/no)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := RenderWarning(tt.pending)
			for _, w := range tt.want {
				assert.Contains(t, text, w)
			}
		})
	}
}
