package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "pcal/internal/log"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a five-field cron expression or a descriptor such as
// "@hourly" or "@every 15m".
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// Runner runs a Task on a cron schedule. Runs never overlap: a tick that
// fires while the previous run is still going is skipped, and RunNow waits
// for it.
type Runner struct {
	name string
	spec string
	task Task
	cron *cron.Cron

	runMu    sync.Mutex
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewRunner validates spec and prepares a Runner. It does not start it.
func NewRunner(name, spec string, task Task) (*Runner, error) {
	if task == nil {
		return nil, fmt.Errorf("job %q has no task", name)
	}
	if _, err := ParseSpec(spec); err != nil {
		return nil, err
	}
	logger := cronLogger{name: name}
	return &Runner{
		name: name,
		spec: strings.TrimSpace(spec),
		task: task,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			cron.WithLogger(logger),
		),
	}, nil
}

// Start schedules the task and returns immediately. The scheduler stops when
// ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if _, err := r.cron.AddFunc(r.spec, func() { r.run(runCtx, "schedule") }); err != nil {
		cancel()
		return fmt.Errorf("schedule job %q: %w", r.name, err)
	}
	r.cron.Start()
	appLog.Info("job scheduled", "job", r.name, "spec", r.spec, "next", r.Next())

	go func() {
		<-runCtx.Done()
		r.Stop()
	}()
	return nil
}

// RunNow runs the task synchronously, outside the schedule.
func (r *Runner) RunNow(ctx context.Context) error {
	return r.run(ctx, "manual")
}

// Next is the next scheduled run, zero when not started.
func (r *Runner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop stops the scheduler and waits for a running task. Safe to call more
// than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		<-r.cron.Stop().Done()
		appLog.Info("job stopped", "job", r.name)
	})
}

func (r *Runner) run(ctx context.Context, trigger string) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	appLog.Debug("job started", "job", r.name, "trigger", trigger)
	err := r.task(ctx)
	if err != nil {
		appLog.Error("job failed", err, "job", r.name, "trigger", trigger, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	appLog.Info("job completed", "job", r.name, "trigger", trigger, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// cronLogger routes cron's own messages to appLog.
type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, append([]any{"job", l.name}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, append([]any{"job", l.name}, keysAndValues...)...)
}
