package janitor

import (
	"context"
	"fmt"
	"time"

	"hr-realtime/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser accepts standard 5-field expressions, an optional seconds field
// and descriptors such as "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

const runTimeout = 20 * time.Second

// CallSweeper ends calls whose timers or connections were lost.
type CallSweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// PresenceCleaner marks users offline whose mirrored heartbeat went stale.
type PresenceCleaner interface {
	CleanupStalePresence(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Result summarizes one pass.
type Result struct {
	CallsEnded     int
	PresenceStaled int64
}

// Janitor runs the periodic safety nets on a cron schedule.
type Janitor struct {
	cron       *cron.Cron
	calls      CallSweeper
	presence   PresenceCleaner
	staleAfter time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// New validates schedule and registers the sweep. presence may be nil when no
// Redis mirror is configured.
func New(schedule string, calls CallSweeper, presence PresenceCleaner, staleAfter time.Duration, l *logger.Logger) (*Janitor, error) {
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	j := &Janitor{
		calls:      calls,
		presence:   presence,
		staleAfter: staleAfter,
		logger:     l.Named("janitor"),
		now:        time.Now,
	}
	cl := cronLogger{l: j.logger}
	j.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := j.cron.AddFunc(schedule, j.tick); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	return j, nil
}

// Start begins running passes in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started", zap.Int("jobs", len(j.cron.Entries())))
}

// Stop halts scheduling and waits for a running pass to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce performs one pass immediately.
func (j *Janitor) RunOnce(ctx context.Context) Result {
	var res Result
	if j.calls != nil {
		res.CallsEnded = j.calls.Sweep(ctx, j.now())
	}
	if j.presence != nil && j.staleAfter > 0 {
		n, err := j.presence.CleanupStalePresence(ctx, j.staleAfter)
		if err != nil {
			j.logger.Warn("stale presence cleanup failed", zap.Error(err))
		}
		res.PresenceStaled = n
	}
	if res.CallsEnded > 0 || res.PresenceStaled > 0 {
		j.logger.Info("janitor pass",
			zap.Int("calls_ended", res.CallsEnded),
			zap.Int64("presence_staled", res.PresenceStaled))
	}
	return res
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Logger.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
