package guard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/executor"
	"github.com/ashureev/fleetguard/internal/scope"
	"github.com/ashureev/fleetguard/internal/shared"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeNow() time.Time {
	return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
}

// countingReader records consequence reads made against the store.
type countingReader struct {
	*store.SQLiteStore
	reads int
}

func (c *countingReader) GetTrip(ctx context.Context, id int64) (*domain.Trip, error) {
	c.reads++
	return c.SQLiteStore.GetTrip(ctx, id)
}

func (c *countingReader) GetDeployment(ctx context.Context, id int64) (*domain.Deployment, error) {
	c.reads++
	return c.SQLiteStore.GetDeployment(ctx, id)
}

// countingExecutor wraps the real executor.
type countingExecutor struct {
	inner *executor.Executor
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, call domain.ResolvedCall, actor string) (*executor.Result, error) {
	c.calls++
	return c.inner.Execute(ctx, call, actor)
}

type fixture struct {
	store  *store.SQLiteStore
	reader *countingReader
	exec   *countingExecutor
	guard  *Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Seed(context.Background()))

	scopes, err := scope.Load("")
	require.NoError(t, err)

	reader := &countingReader{SQLiteStore: s}
	exec := &countingExecutor{inner: executor.New(s, executor.Config{
		Backoff:        shared.Backoff{Attempts: 2, BaseDelay: time.Millisecond},
		AttemptTimeout: time.Second,
	}, nil)}
	return &fixture{
		store:  s,
		reader: reader,
		exec:   exec,
		guard:  New(scopes, reader, exec, Config{MaxAttempts: 3, QueryTimeout: time.Second}, nil),
	}
}

func (f *fixture) session(page string) *domain.Session {
	sess := domain.NewSession("sess-"+page, timeNow())
	sess.Operator = "op-1"
	sess.PageContext = page
	return sess
}

func (f *fixture) tripDeployment(t *testing.T, tripName string) *domain.Deployment {
	t.Helper()
	trips, err := f.store.FindByName(context.Background(), domain.CollectionTrips, tripName)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	dep, err := f.store.ActiveDeploymentForTrip(context.Background(), trips[0].ID)
	require.NoError(t, err)
	return dep
}

func removeVehicle(trip string) domain.ToolCall {
	return domain.ToolCall{Name: "remove_vehicle_from_trip", Args: map[string]any{"trip_name": trip}}
}

func TestRemoveVehicleFromBookedTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("no keeps the deployment", func(t *testing.T) {
		f := newFixture(t)
		sess := f.session("bus_dashboard")
		dep := f.tripDeployment(t, "Bulk - 00:01")

		out := f.guard.Propose(ctx, sess, removeVehicle("Bulk - 00:01"))
		require.NoError(t, out.Err)
		assert.Equal(t, domain.StateAwaitingConfirmation, out.State)
		assert.Contains(t, out.Text, "25")
		require.NotNil(t, out.Pending)
		assert.Equal(t, 12, out.Pending.Consequences.TotalBookings)
		assert.Zero(t, f.exec.calls)

		out = f.guard.Reply(ctx, sess, "no")
		assert.True(t, out.Passed(domain.StateCancelled))
		assert.Zero(t, f.exec.calls)

		still, err := f.store.GetDeployment(ctx, dep.DeploymentID)
		require.NoError(t, err)
		assert.Equal(t, dep.VehicleID, still.VehicleID)
	})

	t.Run("yes soft deletes the deployment once", func(t *testing.T) {
		f := newFixture(t)
		sess := f.session("busDashboard")
		dep := f.tripDeployment(t, "Bulk - 00:01")

		out := f.guard.Propose(ctx, sess, removeVehicle("bulk - 00:01"))
		require.Equal(t, domain.StateAwaitingConfirmation, out.State)

		out = f.guard.Reply(ctx, sess, "yes, go ahead")
		require.NoError(t, out.Err)
		assert.True(t, out.Passed(domain.StateCompleted))
		assert.Equal(t, domain.StateIdle, sess.State)
		assert.Equal(t, 1, f.exec.calls)

		_, err := f.store.GetDeployment(ctx, dep.DeploymentID)
		assert.True(t, errdefs.IsNotFound(err), "deployment must be soft deleted")

		out = f.guard.Reply(ctx, sess, "yes")
		assert.ErrorIs(t, out.Err, ErrNothingPending)
		assert.Equal(t, 1, f.exec.calls)
	})
}

func TestDeletePathWithoutRoutesSkipsConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session("route_management")

	out := f.guard.Propose(ctx, sess, domain.ToolCall{Name: "delete_path", Args: map[string]any{"path_name": "PATH-NH-003"}})
	require.NoError(t, out.Err)
	assert.False(t, out.Passed(domain.StateAwaitingConfirmation))
	assert.True(t, out.Passed(domain.StateCompleted))
	assert.Equal(t, 1, f.exec.calls)

	paths, err := f.store.FindByName(ctx, domain.CollectionPaths, "PATH-NH-003")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDeletePathInUseNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	sess := f.session("route_management")

	out := f.guard.Propose(context.Background(), sess, domain.ToolCall{Name: "delete_path", Args: map[string]any{"name": "PATH-EC-001"}})
	assert.Equal(t, domain.StateAwaitingConfirmation, out.State)
	assert.Contains(t, out.Text, "used by 2 routes")
	assert.Zero(t, f.exec.calls)
}

func TestDeleteRouteWithOnlyCancelledTripsExecutes(t *testing.T) {
	f := newFixture(t)
	sess := f.session("route_management")

	out := f.guard.Propose(context.Background(), sess, domain.ToolCall{Name: "delete_route", Args: map[string]any{"name": "Whitefield - 09:15"}})
	require.NoError(t, out.Err)
	assert.True(t, out.Passed(domain.StateCompleted))
	assert.Equal(t, "Deleted route 'Whitefield - 09:15'.", out.Text)
}

func TestOutOfScopeCallIsRejectedBeforeEvaluation(t *testing.T) {
	f := newFixture(t)
	sess := f.session("route_management")

	out := f.guard.Propose(context.Background(), sess, removeVehicle("Bulk - 00:01"))
	var scopeErr *ScopeError
	require.True(t, errors.As(out.Err, &scopeErr))
	assert.ErrorIs(t, out.Err, ErrOutOfScope)
	assert.Equal(t, []string{"bus_dashboard"}, scopeErr.Pages)
	assert.Contains(t, out.Text, "Switch to bus_dashboard")
	assert.Zero(t, f.reader.reads, "no consequence read for an out-of-scope call")
	assert.Zero(t, f.exec.calls)
	assert.Nil(t, sess.Pending)
}

func TestUnrecognizedPageRejectionDoesNotNameFallback(t *testing.T) {
	f := newFixture(t)
	sess := f.session("fleet_overview")

	out := f.guard.Propose(context.Background(), sess, removeVehicle("Bulk - 00:01"))
	var scopeErr *ScopeError
	require.True(t, errors.As(out.Err, &scopeErr))
	assert.True(t, scopeErr.Unrecognized)
	assert.Contains(t, out.Text, "didn't recognize the page")
	assert.Contains(t, out.Text, "most restrictive")
	assert.NotContains(t, out.Text, "from the route_management page")
	assert.Zero(t, f.reader.reads)
}

func TestPageChangeToUnrecognizedPageCancelsPending(t *testing.T) {
	f := newFixture(t)
	sess := f.session("bus_dashboard")

	out := f.guard.Propose(context.Background(), sess, removeVehicle("Bulk - 00:01"))
	require.Equal(t, domain.StateAwaitingConfirmation, out.State)

	sess.PageContext = "fleet_overview"
	out, cancelled := f.guard.EnforceScope(sess)
	require.True(t, cancelled)
	assert.Contains(t, out.Text, "an unrecognized page")
	assert.NotContains(t, out.Text, "route_management")
	assert.Nil(t, sess.Pending)
	assert.Zero(t, f.exec.calls)
}

func TestUnknownToolAndUnresolvedNames(t *testing.T) {
	f := newFixture(t)
	sess := f.session("bus_dashboard")

	out := f.guard.Propose(context.Background(), sess, domain.ToolCall{Name: "drop_table"})
	assert.ErrorIs(t, out.Err, ErrUnknownTool)

	out = f.guard.Propose(context.Background(), sess, domain.ToolCall{Name: "delete_trip", Args: map[string]any{"name": "Airport Shuttle"}})
	assert.ErrorIs(t, out.Err, ErrUnresolvedTarget)
	assert.Contains(t, out.Text, "Airport Shuttle")

	out = f.guard.Propose(context.Background(), sess, domain.ToolCall{Name: "delete_trip", Args: map[string]any{"name": "Electronic City"}})
	assert.ErrorIs(t, out.Err, ErrAmbiguousTarget)

	out = f.guard.Propose(context.Background(), sess, removeVehicle("Whitefield - 09:15 Trip"))
	assert.ErrorIs(t, out.Err, ErrUnresolvedTarget, "a trip without a deployment has nothing to remove")
	assert.Zero(t, f.exec.calls)
}

func TestPageChangeCancelsOutOfScopePending(t *testing.T) {
	f := newFixture(t)
	sess := f.session("bus_dashboard")
	f.guard.Propose(context.Background(), sess, removeVehicle("Bulk - 00:01"))
	require.True(t, sess.AwaitingConfirmation())

	sess.PageContext = "busDashboard"
	_, cancelled := f.guard.EnforceScope(sess)
	assert.False(t, cancelled)

	sess.PageContext = "route_management"
	out, cancelled := f.guard.EnforceScope(sess)
	assert.True(t, cancelled)
	assert.True(t, out.Passed(domain.StateCancelled))
	assert.Nil(t, sess.Pending)
	assert.Zero(t, f.exec.calls)
}

func TestVisionWithoutEntityNeverFillsTarget(t *testing.T) {
	f := newFixture(t)
	sess := f.session("bus_dashboard")

	unseen := &domain.VisionContext{EntityName: "Bulk - 00:01", Confidence: 0, Note: "no entity identified"}
	call := ApplyVision(domain.ToolCall{Name: "remove_vehicle_from_trip"}, unseen)
	assert.Empty(t, call.Args)

	out := f.guard.Propose(context.Background(), sess, call)
	assert.ErrorIs(t, out.Err, ErrMissingTarget)
	assert.Nil(t, sess.Pending)
	assert.Zero(t, f.exec.calls)
}

func TestVisionFillsMissingTarget(t *testing.T) {
	f := newFixture(t)
	trips, err := f.store.FindByName(context.Background(), domain.CollectionTrips, "Bulk - 00:01")
	require.NoError(t, err)

	seen := &domain.VisionContext{
		EntityName: "Bulk - 00:01",
		Confidence: 0.9,
		Resolved:   &domain.EntityRef{Collection: domain.CollectionTrips, ID: trips[0].ID, Label: trips[0].Label},
	}
	call := ApplyVision(domain.ToolCall{Name: "remove_vehicle_from_trip"}, seen)
	assert.Equal(t, trips[0].ID, call.Args["trip_id"])

	explicit := ApplyVision(removeVehicle("Electronic City - 18:30 Trip"), seen)
	assert.NotContains(t, explicit.Args, "trip_id", "an explicit target wins over the image")

	sess := f.session("bus_dashboard")
	out := f.guard.Propose(context.Background(), sess, call)
	assert.Equal(t, domain.StateAwaitingConfirmation, out.State, "an image-filled target still needs confirmation")
}

type failingReader struct {
	*store.SQLiteStore
}

func (failingReader) GetDeployment(context.Context, int64) (*domain.Deployment, error) {
	return nil, fmt.Errorf("read deployment: %w", errdefs.ErrUnavailable)
}

func TestEvaluationFailureIsUnknownImpact(t *testing.T) {
	f := newFixture(t)
	scopes, err := scope.Load("")
	require.NoError(t, err)
	g := New(scopes, failingReader{f.store}, f.exec, Config{}, nil)
	sess := f.session("bus_dashboard")

	out := g.Propose(context.Background(), sess, removeVehicle("Electronic City - 18:30 Trip"))
	assert.Equal(t, domain.StateAwaitingConfirmation, out.State, "zero-booking trip must still confirm when the read fails")
	require.NotNil(t, out.Pending)
	assert.True(t, out.Pending.Consequences.Unknown)
	assert.Contains(t, out.Text, "Impact unknown")
	assert.Zero(t, f.exec.calls)
}

func TestDeploymentWithoutBookingsExecutesImmediately(t *testing.T) {
	f := newFixture(t)
	sess := f.session("bus_dashboard")

	out := f.guard.Propose(context.Background(), sess, removeVehicle("Electronic City - 18:30 Trip"))
	require.NoError(t, out.Err)
	assert.True(t, out.Passed(domain.StateCompleted))
	assert.Equal(t, "Removed the vehicle deployment from 'Electronic City - 18:30 Trip'.", out.Text)
}
