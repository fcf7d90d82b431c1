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

	"github.com/sells-group/paper-cli/internal/config"
	"github.com/sells-group/paper-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStageFailureRate  AlertType = "stage_failure_rate"
	AlertMissingCredential AlertType = "missing_credential"
)

// minFinished is the sample size below which failure rates are not alerted.
const minFinished = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Stage     model.Stage    `json:"stage"`
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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts,
// in stage order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, st := range model.Stages {
		m := snap.Stages[st]
		if m == nil {
			continue
		}
		finished := m.Done + m.Failed
		if finished >= minFinished && m.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertStageFailureRate,
				Stage:    st,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
					st, m.FailRate*100, a.cfg.FailureRateThreshold*100, m.Failed, finished,
				),
				Details: map[string]any{
					"failure_rate":  m.FailRate,
					"threshold":     a.cfg.FailureRateThreshold,
					"failed":        m.Failed,
					"finished":      finished,
					"recent_failed": m.RecentFailed,
				},
				Timestamp: now,
			})
		}

		if n := snap.Unconfigured[st]; n > 0 {
			alerts = append(alerts, Alert{
				Type:      AlertMissingCredential,
				Stage:     st,
				Severity:  "low",
				Message:   fmt.Sprintf("%d document(s) skipped %s for a missing API key", n, st),
				Details:   map[string]any{"skipped": n},
				Timestamp: now,
			})
		}
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
				zap.String("stage", string(alert.Stage)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
