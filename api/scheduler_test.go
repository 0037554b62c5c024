package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowRecordsLastRun(t *testing.T) {
	router, h := setupTestRouter(t)
	createReading(t, router)
	rs := NewRefreshScheduler(h.Tracker, "")

	// GIVEN: No run yet
	assert.Nil(t, rs.LastRun())
	assert.True(t, rs.NextRun().IsZero())

	// WHEN: A refresh runs
	n, err := rs.RunNow(context.Background())
	require.NoError(t, err)

	// THEN: The outcome is kept
	assert.Equal(t, 1, n)
	last := rs.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Refreshed)
	assert.NoError(t, last.Err)
	assert.True(t, last.StartedAt.Equal(testNow))
}

func TestScheduler_StartStop(t *testing.T) {
	_, h := setupTestRouter(t)

	// An empty schedule disables the scheduler
	rs := NewRefreshScheduler(h.Tracker, "")
	require.NoError(t, rs.Start())
	assert.True(t, rs.NextRun().IsZero())
	rs.Stop()

	// A bad schedule is reported
	rs = NewRefreshScheduler(h.Tracker, "every now and then")
	assert.Error(t, rs.Start())
	rs.Stop()

	// A valid schedule has a next run
	rs = NewRefreshScheduler(h.Tracker, "@every 1h")
	require.NoError(t, rs.Start())
	require.NoError(t, rs.Start(), "second start is a no-op")
	next := rs.NextRun()
	assert.True(t, next.After(time.Now()))
	rs.Stop()
	rs.Stop()
	assert.True(t, rs.NextRun().IsZero())
}

func TestScheduler_RefreshesDoNotOverlap(t *testing.T) {
	router, h := setupTestRouter(t)
	rs := NewRefreshScheduler(h.Tracker, "")
	h.Scheduler = rs

	// GIVEN: A refresh in flight
	rs.running.Lock()

	// THEN: Manual refreshes are refused
	_, err := rs.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRefreshRunning)

	rec := do(t, router, http.MethodPost, "/api/admin/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rs.running.Unlock()
	rec = do(t, router, http.MethodPost, "/api/admin/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshStatus(t *testing.T) {
	router, h := setupTestRouter(t)
	createReading(t, router)
	h.Scheduler = NewRefreshScheduler(h.Tracker, "@hourly")
	require.NoError(t, h.Scheduler.Start())
	t.Cleanup(h.Scheduler.Stop)

	rec := do(t, router, http.MethodPost, "/api/admin/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[RefreshDTO](t, rec).NextRun)

	rec = do(t, router, http.MethodGet, "/api/admin/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[RefreshDTO](t, rec)
	assert.Equal(t, 1, status.Refreshed)
	assert.Equal(t, "2024-01-10T12:00:00Z", status.LastRun)
	assert.NotEmpty(t, status.NextRun)
}
