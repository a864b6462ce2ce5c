package recovery

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
)

// Observer produces a fresh observation of the page.
type Observer interface {
	Observe(ctx context.Context) (schemas.Observation, error)
}

// challengeMarkers are phrases that identify bot checks when the cognition
// service did not tag the page as a challenge itself.
var challengeMarkers = []string{
	"captcha",
	"verify you are human",
	"checking your browser",
	"are you a robot",
	"unusual traffic",
	"access denied",
	"cloudflare",
	"just a moment",
}

// IsChallenge reports whether obs shows an anti-bot interstitial.
func IsChallenge(obs schemas.Observation) bool {
	if obs.UIState == schemas.UIStateChallenge {
		return true
	}
	text := strings.ToLower(obs.Title + " " + obs.Description)
	for _, m := range challengeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ChallengeDetector detects anti-bot challenges and waits for them to clear.
type ChallengeDetector struct {
	observer Observer
	cfg      config.RecoveryConfig
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewChallengeDetector creates a detector polling observer.
func NewChallengeDetector(observer Observer, cfg config.RecoveryConfig, logger *zap.Logger) *ChallengeDetector {
	return &ChallengeDetector{
		observer: observer,
		cfg:      cfg,
		logger:   logger.Named("challenge"),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Detect observes the page once and reports whether it shows a challenge.
func (d *ChallengeDetector) Detect(ctx context.Context) (bool, schemas.Observation, error) {
	obs, err := d.observer.Observe(ctx)
	if err != nil {
		return false, schemas.Observation{}, err
	}
	return IsChallenge(obs), obs, nil
}

// WaitForClearance polls until the challenge disappears or the configured
// timeout elapses. Observation errors during the poll are treated as "still
// blocked". It returns false on timeout and an error only when ctx ends.
func (d *ChallengeDetector) WaitForClearance(ctx context.Context) (bool, error) {
	start := d.now()
	polls := 0
	for {
		polls++
		blocked, _, err := d.Detect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.logger.Debug("Observation failed while waiting for clearance", zap.Error(err))
			blocked = true
		}
		if !blocked {
			d.logger.Info("Challenge cleared", zap.Int("polls", polls), zap.Duration("waited", d.now().Sub(start)))
			return true, nil
		}
		if d.now().Sub(start) >= d.cfg.ChallengeTimeout {
			d.logger.Warn("Challenge did not clear in time", zap.Duration("timeout", d.cfg.ChallengeTimeout))
			return false, nil
		}
		if err := d.sleep(ctx, d.cfg.ChallengePollInterval); err != nil {
			return false, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
