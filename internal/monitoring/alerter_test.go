package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdeval/mapseval/internal/config"
	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/resilience"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		NotRelevantRateThreshold: 0.5,
		MinConfidenceThreshold:   0.4,
		MaxTasksPerHour:          27,
		LookbackWindowHours:      24,
	}
}

func TestEvaluateNoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &MetricsSnapshot{
		TasksTotal:      20,
		RatingCounts:    map[model.Rating]int{model.RatingGood: 19, model.RatingNotRelevant: 1},
		NotRelevantRate: 0.05,
		AvgConfidence:   0.8,
		TasksPerHour:    24,
		LookbackHours:   24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateNotRelevantSpike(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &MetricsSnapshot{
		TasksTotal:      10,
		RatingCounts:    map[model.Rating]int{model.RatingNotRelevant: 6},
		NotRelevantRate: 0.6,
		AvgConfidence:   0.8,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNotRelevantSpike, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestEvaluateSkipsSmallSamples(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &MetricsSnapshot{
		TasksTotal:      3,
		NotRelevantRate: 1.0,
		AvgConfidence:   0.1,
		LookbackHours:   24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateLowConfidenceAndPace(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &MetricsSnapshot{
		TasksTotal:    10,
		AvgConfidence: 0.3,
		TasksPerHour:  30,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertLowConfidence, alerts[0].Type)
	assert.Equal(t, AlertPaceOverrun, alerts[1].Type)
}

func TestSendAlertsWebhook(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received = append(received, alert)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	alerts := []Alert{
		{Type: AlertPaceOverrun, Severity: "high", Message: "too fast"},
		{Type: AlertLowConfidence, Severity: "medium", Message: "low"},
	}
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Len(t, received, 2)
}

func TestSendAlertsNoWebhookConfigured(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPaceOverrun}})
	assert.Zero(t, sent)
}

func TestSendAlertsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPaceOverrun}})
	assert.Zero(t, sent)
}

func TestSendAlertsRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPaceOverrun}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, calls)
}
