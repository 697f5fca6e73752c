package syncer

import (
	"time"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/db"
)

// RetryPolicy decyduje, kiedy wpis error wraca do pending.
// manual: tylko wymuszony sync (reconnect, "sync now", komenda retry).
// backoff: dodatkowo przy ticku timera, po odczekaniu base*2^(attempts-1) (max MaxDelay).
type RetryPolicy struct {
	Mode        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func retryPolicyFrom(cfg *conf.Config) RetryPolicy {
	return RetryPolicy{
		Mode:        cfg.Retry.Policy,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseSeconds) * time.Second,
		MaxDelay:    time.Duration(cfg.Retry.MaxSeconds) * time.Second,
	}
}

// Delay po n-tej nieudanej próbie.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Due: czy wpis może wrócić do kolejki przy zwykłym ticku.
func (p RetryPolicy) Due(it db.SyncQueueItem, now time.Time) bool {
	if p.Mode != conf.RetryBackoff {
		return false
	}
	if p.MaxAttempts > 0 && it.Attempts >= p.MaxAttempts {
		return false
	}
	if it.LastAttempt == nil {
		return true
	}
	return !now.Before(it.LastAttempt.Add(p.Delay(it.Attempts)))
}
