package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	registry = newHealthRegistry()
}

func wireHealthyCluster() {
	SetRaftStatus(func() RaftHealth {
		return RaftHealth{Role: "leader", Term: 3, LeaderID: "node-1", CommitIndex: 42, AppliedLag: 0}
	})
	RegisterProbe("storage", func() error { return nil })
	RegisterProbe("transport", func() error { return nil })
}

func TestGetHealthHealthyCluster(t *testing.T) {
	resetRegistry()
	SetVersion("v1.2.3")
	wireHealthyCluster()

	rep := GetHealth()
	assert.Equal(t, "healthy", rep.Status)
	assert.Equal(t, "v1.2.3", rep.Version)
	assert.Equal(t, "ok", rep.Components["storage"])
	assert.Equal(t, "ok", rep.Components["transport"])
	require.NotNil(t, rep.Raft)
	assert.Equal(t, "leader", rep.Raft.Role)
	assert.Equal(t, uint64(3), rep.Raft.Term)
}

func TestGetHealthProbeFailureIsUnhealthy(t *testing.T) {
	resetRegistry()
	wireHealthyCluster()
	RegisterProbe("storage", func() error { return fmt.Errorf("disk full") })

	rep := GetHealth()
	assert.Equal(t, "unhealthy", rep.Status)
	assert.Equal(t, "error: disk full", rep.Components["storage"])
}

func TestGetHealthDegradedWithoutLeader(t *testing.T) {
	resetRegistry()
	SetRaftStatus(func() RaftHealth {
		return RaftHealth{Role: "follower", Term: 2}
	})

	rep := GetHealth()
	assert.Equal(t, "degraded", rep.Status)
	assert.Equal(t, "no leader elected", rep.Message)
}

func TestGetHealthTerminalConsensusIsUnhealthy(t *testing.T) {
	resetRegistry()
	SetRaftStatus(func() RaftHealth {
		return RaftHealth{Role: "follower", Term: 2, LeaderID: "node-1", Terminal: true}
	})

	rep := GetHealth()
	assert.Equal(t, "unhealthy", rep.Status)
	assert.Equal(t, "consensus halted after a storage failure", rep.Message)
}

func TestGetReadinessRequiresConsensusWired(t *testing.T) {
	resetRegistry()
	RegisterProbe("storage", func() error { return nil })

	rep := GetReadiness()
	assert.Equal(t, "not_ready", rep.Status)
	assert.Equal(t, "consensus not started", rep.Message)
}

func TestGetReadinessWaitsForLeader(t *testing.T) {
	resetRegistry()
	SetRaftStatus(func() RaftHealth {
		return RaftHealth{Role: "candidate", Term: 1}
	})

	rep := GetReadiness()
	assert.Equal(t, "not_ready", rep.Status)
}

func TestGetReadinessReady(t *testing.T) {
	resetRegistry()
	wireHealthyCluster()

	rep := GetReadiness()
	assert.Equal(t, "ready", rep.Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	resetRegistry()
	wireHealthyCluster()

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var rep HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Equal(t, "healthy", rep.Status)

	RegisterProbe("storage", func() error { return fmt.Errorf("disk full") })
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandlerDegradedStillServes200(t *testing.T) {
	resetRegistry()
	SetRaftStatus(func() RaftHealth {
		return RaftHealth{Role: "follower", Term: 2}
	})

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var rep HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Equal(t, "degraded", rep.Status)
}

func TestReadyHandlerStatusCodes(t *testing.T) {
	resetRegistry()

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	wireHealthyCluster()
	rec = httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessHandlerAlwaysAlive(t *testing.T) {
	resetRegistry()

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
