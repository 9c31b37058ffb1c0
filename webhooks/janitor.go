package webhooks

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-smsbroker/core"
)

// Purger is the ledger slice the janitor needs.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor garbage-collects settled delivery records past the retention
// window so the dedupe ledger stays bounded.
type Janitor struct {
	Ledger    Purger
	Retention time.Duration
	Logger    core.Logger
	Now       func() time.Time
}

func NewJanitor(ledger Purger, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = core.DefaultConfig().WebhookRetention
	}
	return &Janitor{
		Ledger:    ledger,
		Retention: retention,
		Logger:    glog.Ensure(nil),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	if j == nil || j.Ledger == nil {
		return 0, fmt.Errorf("webhooks: janitor requires a ledger")
	}
	now := j.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cutoff := now().Add(-j.Retention)
	purged, err := j.Ledger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 && j.Logger != nil {
		j.Logger.Info("webhook deliveries purged",
			"purged", purged,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return purged, nil
}
