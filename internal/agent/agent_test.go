package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestResolveReportOfflineIsSticky(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	current := Record{ID: "1", Status: StatusOffline}

	res := ResolveReport(current, Report{Status: StatusOnline, Ping: 42, PID: 999}, now)

	assert.True(t, res.Rejected)
	assert.Equal(t, StatusOffline, res.Record.Status)
	assert.Equal(t, 0, res.Record.PID)
	assert.Nil(t, res.Record.StartTime)
	assert.Equal(t, 0, res.Record.Ping)
	require.NotNil(t, res.Record.LastSeen)
	assert.Equal(t, now, *res.Record.LastSeen)
}

func TestResolveReportAcceptsWhileOnline(t *testing.T) {
	now := time.Now()
	started := now.Add(-time.Minute)
	current := Record{ID: "1", Status: StatusOnline, PID: 10}

	res := ResolveReport(current, Report{
		Status:         StatusOnline,
		PresenceStatus: StatusDND,
		Ping:           42,
		ServerCount:    intp(3),
		UserCount:      intp(120),
		PID:            11,
		StartTime:      &started,
	}, now)

	assert.False(t, res.Rejected)
	assert.Equal(t, StatusOnline, res.Record.Status)
	assert.Equal(t, StatusDND, res.Record.PresenceStatus)
	assert.Equal(t, 42, res.Record.Ping)
	assert.Equal(t, 3, res.Record.ServerCount)
	assert.Equal(t, 120, res.Record.UserCount)
	assert.Equal(t, 11, res.Record.PID)
	require.NotNil(t, res.Record.StartTime)
	assert.Equal(t, started, *res.Record.StartTime)
}

func TestResolveReportEmptyStatusKeepsPersisted(t *testing.T) {
	res := ResolveReport(Record{Status: StatusMaintenance}, Report{Ping: 7}, time.Now())
	assert.Equal(t, StatusMaintenance, res.Record.Status)
	assert.Zero(t, res.Record.PID)
	assert.Equal(t, 7, res.Record.Ping)
}

func TestResolveReportLiveStatusAgainstOfflineIsRejected(t *testing.T) {
	started := time.Now()
	for _, st := range []Status{StatusIdle, StatusDND, StatusOnline} {
		t.Run(string(st), func(t *testing.T) {
			res := ResolveReport(Record{Status: StatusOffline}, Report{Status: st, PID: 99, StartTime: &started}, time.Now())
			assert.True(t, res.Rejected)
			assert.Equal(t, StatusOffline, res.Record.Status)
			assert.Zero(t, res.Record.PID)
			assert.Nil(t, res.Record.StartTime)
		})
	}
}

func TestResolveReportIdleThenOnlineStaysOffline(t *testing.T) {
	now := time.Now()
	rec := Record{ID: "1", Status: StatusOffline}

	rec = ResolveReport(rec, Report{Status: StatusIdle, PID: 7}, now).Record
	res := ResolveReport(rec, Report{Status: StatusOnline, PID: 7}, now.Add(time.Second))

	assert.True(t, res.Rejected)
	assert.Equal(t, StatusOffline, res.Record.Status)
	assert.Zero(t, res.Record.PID)
}

func TestResolveReportNonOnlineDropsPID(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	current := Record{Status: StatusOnline, PID: 42, StartTime: &started}

	res := ResolveReport(current, Report{Status: StatusDND, PID: 42}, time.Now())
	assert.False(t, res.Rejected)
	assert.Equal(t, StatusDND, res.Record.Status)
	assert.Zero(t, res.Record.PID)
	assert.Nil(t, res.Record.StartTime)

	res = ResolveReport(res.Record, Report{Status: StatusOnline, PID: 43}, time.Now())
	assert.Equal(t, StatusOnline, res.Record.Status)
	assert.Equal(t, 43, res.Record.PID)
}

func TestResolveReportReportedOfflineClearsPID(t *testing.T) {
	started := time.Now()
	res := ResolveReport(Record{Status: StatusOnline, PID: 5, StartTime: &started}, Report{Status: StatusOffline, Ping: 3}, time.Now())
	assert.False(t, res.Rejected)
	assert.Equal(t, StatusOffline, res.Record.Status)
	assert.Zero(t, res.Record.PID)
	assert.Nil(t, res.Record.StartTime)
	assert.Zero(t, res.Record.Ping)
}

func TestMarkStartedStopped(t *testing.T) {
	var r Record
	at := time.Now()
	r.MarkStarted(1234, at)
	assert.Equal(t, StatusOnline, r.Status)
	assert.Equal(t, 1234, r.PID)
	require.NotNil(t, r.StartTime)

	r.MarkStopped(at.Add(time.Second))
	assert.Equal(t, StatusOffline, r.Status)
	assert.Zero(t, r.PID)
	assert.Nil(t, r.StartTime)
	assert.Zero(t, r.Ping)

	r.MarkStarted(-1, at)
	assert.Zero(t, r.PID)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" online ")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, s)

	_, err = ParseStatus("sleeping")
	assert.True(t, cerrdefs.IsInvalidArgument(err))
}

func TestCredentialNeverSerialized(t *testing.T) {
	r := Record{ID: "1", Name: "bot", Credential: "super-secret-token"}

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "super-secret-token")

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("agent", "agent", r)
	assert.NotContains(t, buf.String(), "super-secret-token")
	assert.Contains(t, buf.String(), "[redacted]")
}

func TestUptime(t *testing.T) {
	now := time.Now()
	start := now.Add(-90 * time.Second)
	assert.Equal(t, 90*time.Second, Record{StartTime: &start}.Uptime(now))
	assert.Zero(t, Record{}.Uptime(now))
}
