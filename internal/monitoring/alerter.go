package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/config"
	"github.com/crowdeval/mapseval/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNotRelevantSpike AlertType = "not_relevant_spike"
	AlertLowConfidence    AlertType = "low_confidence"
	AlertPaceOverrun      AlertType = "pace_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			OnRetry:        resilience.RetryLogger("alert webhook"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// A run of not_relevant verdicts usually means extraction is failing,
	// not that the results are bad.
	if snap.TasksTotal >= 5 && snap.NotRelevantRate > a.cfg.NotRelevantRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertNotRelevantSpike,
			Severity: "high",
			Message: fmt.Sprintf(
				"not_relevant rate %.1f%% exceeds threshold %.1f%% (%d of %d tasks in last %dh)",
				snap.NotRelevantRate*100, a.cfg.NotRelevantRateThreshold*100,
				snap.RatingCounts["not_relevant"], snap.TasksTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"not_relevant_rate": snap.NotRelevantRate,
				"threshold":         a.cfg.NotRelevantRateThreshold,
				"tasks_total":       snap.TasksTotal,
			},
			Timestamp: now,
		})
	}

	// Low average confidence.
	if snap.TasksTotal >= 5 && a.cfg.MinConfidenceThreshold > 0 && snap.AvgConfidence < a.cfg.MinConfidenceThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average confidence %.2f below threshold %.2f over last %dh",
				snap.AvgConfidence, a.cfg.MinConfidenceThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgConfidence,
				"threshold":      a.cfg.MinConfidenceThreshold,
				"tasks_total":    snap.TasksTotal,
			},
			Timestamp: now,
		})
	}

	// Pace overrun: the throttler should make this impossible, so seeing it
	// means the pacing state is broken.
	if a.cfg.MaxTasksPerHour > 0 && snap.TasksPerHour > float64(a.cfg.MaxTasksPerHour) {
		alerts = append(alerts, Alert{
			Type:     AlertPaceOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Realized pace %.1f tasks/hour exceeds cap %d over last %dh",
				snap.TasksPerHour, a.cfg.MaxTasksPerHour, snap.LookbackHours,
			),
			Details: map[string]any{
				"tasks_per_hour": snap.TasksPerHour,
				"cap":            a.cfg.MaxTasksPerHour,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying transient
// delivery failures.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
