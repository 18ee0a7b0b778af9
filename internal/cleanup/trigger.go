package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventdir/internal/log"
)

// DefaultPoll asks the scheduler every ten minutes whether a pass is due.
const DefaultPoll = "*/10 * * * *"

// Trigger polls a Scheduler on a cron schedule. Polls are cheap: the
// scheduler itself decides whether a pass is due.
type Trigger struct {
	cron      *cron.Cron
	scheduler *Scheduler
	dryRun    bool
	now       func() time.Time
}

// NewTrigger registers the poll spec. An empty spec selects DefaultPoll.
func NewTrigger(s *Scheduler, spec string, loc *time.Location, dryRun bool) (*Trigger, error) {
	if spec == "" {
		spec = DefaultPoll
	}
	if loc == nil {
		loc = time.Local
	}

	t := &Trigger{
		cron:      cron.New(cron.WithLocation(loc)),
		scheduler: s,
		dryRun:    dryRun,
		now:       func() time.Time { return time.Now().In(loc) },
	}
	if _, err := t.cron.AddFunc(spec, t.poll); err != nil {
		return nil, fmt.Errorf("cleanup: poll spec %q: %w", spec, err)
	}
	return t, nil
}

func (t *Trigger) Start() {
	t.cron.Start()
	appLog.Info("cleanup trigger started", "dry_run", t.dryRun)
}

func (t *Trigger) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	appLog.Info("cleanup trigger stopped")
}

func (t *Trigger) poll() {
	if _, ran := t.scheduler.Run(context.Background(), t.now(), t.dryRun, false); ran {
		appLog.Debug("cleanup trigger ran a pass")
	}
}
