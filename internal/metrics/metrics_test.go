package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart("a")
	IncStart("a")
	IncStop("a")
	IncSpawnFailure("b")
	IncTeardownFailure("kill")
	AddSweepKills(2)
	IncReportRejection()
	IncSandboxRejection()
	AddUploadFiles(3, 1)
	SetResources("a", ResourceSample{CPUPercent: 1.5, MemoryRSS: 1024})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"agentdeck_agent_starts_total":                 false,
		"agentdeck_agent_stops_total":                  false,
		"agentdeck_agent_spawn_failures_total":         false,
		"agentdeck_agent_teardown_step_failures_total": false,
		"agentdeck_agent_sweep_kills_total":            false,
		"agentdeck_agent_report_rejections_total":      false,
		"agentdeck_agent_running":                      false,
		"agentdeck_agent_cpu_percent":                  false,
		"agentdeck_workspace_sandbox_rejections_total": false,
		"agentdeck_workspace_upload_files_total":       false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, seen := range want {
		assert.True(t, seen, "metric %s not gathered", n)
	}

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	assert.True(t, strings.Contains(string(body), `agentdeck_agent_starts_total{agent="a"} 2`), string(body))

	Forget("a")
	mfs, _ = reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() == "agentdeck_agent_starts_total" {
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					assert.NotEqual(t, "a", l.GetValue())
				}
			}
		}
	}
}

func TestSampleSelf(t *testing.T) {
	s, err := Sample(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, s.MemoryRSS, uint64(0))
	assert.Equal(t, int32(os.Getpid()), s.PID)

	_, err = Sample(context.Background(), 0)
	assert.Error(t, err)
}
