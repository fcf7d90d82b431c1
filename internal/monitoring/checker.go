package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/config"
)

// Checker evaluates the library on a fixed interval while the watcher runs.
// An alert is delivered once and then held back until its condition clears.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	active map[string]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		active:    make(map[string]bool),
	}
}

// Run checks once immediately and then on every tick until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	zap.L().Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and returns the alerts that are new since the
// previous check. Only those are sent to the webhook.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	fresh := c.filterNew(c.alerter.Evaluate(snap))
	for _, a := range fresh {
		zap.L().Warn(a.Message, zap.String("type", string(a.Type)), zap.String("stage", string(a.Stage)))
	}
	if len(fresh) > 0 {
		sent := c.alerter.SendAlerts(ctx, fresh)
		zap.L().Info("monitoring: alerts raised", zap.Int("new", len(fresh)), zap.Int("sent", sent))
	}
	return fresh
}

func (c *Checker) filterNew(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[string]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		key := string(a.Type) + "/" + string(a.Stage)
		now[key] = true
		if !c.active[key] {
			fresh = append(fresh, a)
		}
	}
	c.active = now
	return fresh
}
