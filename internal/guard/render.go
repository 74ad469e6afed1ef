package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/fleetguard/internal/domain"
)

const confirmPrompt = "Do you want to proceed? (yes/no)"

func percent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// RenderWarning builds the confirmation prompt for a pending action from its
// consequence figures.
func RenderWarning(p *domain.PendingAction) string {
	s := p.Consequences
	if s == nil {
		s = &domain.ConsequenceSummary{Kind: p.Kind, TargetLabel: p.TargetLabel, Unknown: true, Reason: "impact was not evaluated"}
	}
	label := s.TargetLabel
	if label == "" {
		label = p.TargetLabel
	}

	if s.Unknown {
		return fmt.Sprintf("I can %s, but I could not check what depends on it (%s). Impact unknown, proceed with caution. %s",
			actionPhrase(p.Kind, label), s.Reason, confirmPrompt)
	}

	var b strings.Builder
	b.WriteString("I can " + actionPhrase(p.Kind, label) + ". However, please be aware that ")

	switch p.Kind {
	case domain.KindDeleteDeployment, domain.KindDeleteTrip:
		trip := s.TripName
		if trip == "" {
			trip = label
		}
		var facts []string
		if s.BookingPercentage > 0 || s.TotalBookings > 0 {
			facts = append(facts, fmt.Sprintf("'%s' is already %s booked by employees (%s)",
				trip, percent(s.BookingPercentage), pluralize(s.TotalBookings, "booking", "bookings")))
		}
		if s.TripLive {
			live := "the trip is currently in progress"
			if s.LiveStatus != "" {
				live += " (live status: " + s.LiveStatus + ")"
			}
			facts = append(facts, live)
		}
		if p.Kind == domain.KindDeleteTrip && s.HasActiveDeployment {
			facts = append(facts, "a vehicle is still deployed on it")
		}
		b.WriteString(strings.Join(facts, " and "))
		if p.Kind == domain.KindDeleteDeployment {
			b.WriteString(". Removing the vehicle will cancel these bookings and the trip-sheet will fail to generate. ")
		} else {
			b.WriteString(". Deleting the trip will cancel its bookings and release its deployment. ")
		}

	case domain.KindDeleteRoute:
		fmt.Fprintf(&b, "route '%s' has %s scheduled, %d of them with bookings. Deleting it will orphan those trips. ",
			label, pluralize(s.ActiveTrips, "active trip", "active trips"), s.BookedTrips)

	case domain.KindDeletePath:
		fmt.Fprintf(&b, "path '%s' is used by %s. Deleting it will leave them without stops. ",
			label, pluralize(s.ReferencingRoutes, "route", "routes"))
	}

	b.WriteString(confirmPrompt)
	return b.String()
}

func actionPhrase(kind domain.ActionKind, label string) string {
	switch kind {
	case domain.KindDeleteDeployment:
		return fmt.Sprintf("remove the vehicle from '%s'", label)
	case domain.KindDeleteTrip:
		return fmt.Sprintf("delete trip '%s'", label)
	case domain.KindDeleteRoute:
		return fmt.Sprintf("delete route '%s'", label)
	case domain.KindDeletePath:
		return fmt.Sprintf("delete path '%s'", label)
	default:
		return fmt.Sprintf("run this on '%s'", label)
	}
}

// RenderReprompt asks again after an unclassifiable reply.
func RenderReprompt(p *domain.PendingAction, remaining int) string {
	return fmt.Sprintf("Sorry, I need a clear answer before I %s. Reply \"yes\" to proceed or \"no\" to cancel (%s left).",
		actionPhrase(p.Kind, p.TargetLabel), pluralize(remaining, "attempt", "attempts"))
}
