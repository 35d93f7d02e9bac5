package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"dotcap/internal/auth"
	"dotcap/internal/harness"
	"dotcap/internal/verify"
)

// EnvironmentFactory returns a new, not yet set up environment. The runner
// calls it once per scenario.
type EnvironmentFactory func() (*harness.Environment, error)

// Recorder is told how each scenario ended and of every probe sent.
type Recorder interface {
	verify.Observer
	ObserveScenario(name, result string, d time.Duration)
}

type Options struct {
	Auth   auth.Options
	Verify verify.Options

	ExternalTarget string
	LogoffSettle   time.Duration

	// Filter selects the scenarios to run by name. Nil runs all of them.
	Filter   *regexp.Regexp
	Recorder Recorder
	Logger   *slog.Logger
}

// Runner runs registered scenarios one at a time, in registration order.
type Runner struct {
	newEnv  EnvironmentFactory
	opts    Options
	log     *slog.Logger
	entries []Entry
}

func NewRunner(newEnv EnvironmentFactory, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder != nil {
		opts.Verify.Observer = opts.Recorder
	}
	opts.Auth.Logger = opts.Logger
	opts.Verify.Logger = opts.Logger

	return &Runner{
		newEnv: newEnv,
		opts:   opts,
		log:    opts.Logger,
	}
}

func (r *Runner) Register(name string, p Procedure) error {
	if name == "" || p == nil {
		return fmt.Errorf("scenario needs a name and a procedure")
	}
	for _, e := range r.entries {
		if e.Name == name {
			return fmt.Errorf("scenario %s already registered", name)
		}
	}
	r.entries = append(r.entries, Entry{Name: name, Procedure: p})
	return nil
}

// Names lists the registered scenarios the filter selects.
func (r *Runner) Names() []string {
	var names []string
	for _, e := range r.entries {
		if r.opts.Filter == nil || r.opts.Filter.MatchString(e.Name) {
			names = append(names, e.Name)
		}
	}
	return names
}

// RunAll runs every selected scenario. A failing scenario never stops the
// batch; once ctx is done the remaining scenarios are reported as errors
// without being set up.
func (r *Runner) RunAll(ctx context.Context) *Report {
	report := &Report{ID: uuid.NewString(), Started: time.Now()}

	for _, e := range r.entries {
		if r.opts.Filter != nil && !r.opts.Filter.MatchString(e.Name) {
			continue
		}

		var res Result
		if err := ctx.Err(); err != nil {
			res = Result{Name: e.Name}
			res.setError(fmt.Errorf("not run: %w", err))
		} else {
			res = r.run(ctx, e)
		}

		r.log.Info("scenario finished", "scenario", e.Name, "status", res.Status, "duration", res.Duration.Round(time.Millisecond))
		if r.opts.Recorder != nil {
			r.opts.Recorder.ObserveScenario(e.Name, string(res.Status), res.Duration)
		}
		report.Results = append(report.Results, res)
	}

	report.Duration = time.Since(report.Started)
	return report
}

// run sets up a fresh environment, runs the procedure and tears the
// environment down exactly once, whatever happened before.
func (r *Runner) run(ctx context.Context, e Entry) (res Result) {
	res.Name = e.Name
	start := time.Now()
	log := r.log.With("scenario", e.Name)
	log.Info("scenario starting")

	env, err := r.newEnv()
	if err != nil {
		res.setError(fmt.Errorf("create environment: %w", err))
		res.Duration = time.Since(start)
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("scenario panicked", "panic", p, "stack", string(debug.Stack()))
			res.setError(fmt.Errorf("panic: %v", p))
		}
		r.teardown(ctx, env, log)
		res.Duration = time.Since(start)
	}()

	if err := env.Setup(ctx); err != nil {
		res.setError(err)
		return res
	}

	s := &Scenario{
		Name:           e.Name,
		Env:            env,
		Auth:           auth.NewDriver(env, r.opts.Auth),
		Verify:         verify.New(env, r.opts.Verify),
		ExternalTarget: r.opts.ExternalTarget,
		LogoffSettle:   r.opts.LogoffSettle,
		log:            log,
	}
	res.setError(e.Procedure(ctx, s))
	return res
}

// teardown releases the environment even if ctx is already cancelled.
// Failures, panics included, are logged and never reach the batch.
func (r *Runner) teardown(ctx context.Context, env *harness.Environment, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("teardown panicked", "panic", p)
		}
	}()

	if err := env.Teardown(context.WithoutCancel(ctx)); err != nil {
		log.Warn("teardown failed", "error", err)
	}
}

// setError records err as the outcome: assertion errors fail the
// scenario, anything else is an error.
func (res *Result) setError(err error) {
	if err == nil {
		res.Status = StatusPass
		return
	}

	var aerr *harness.AssertionError
	if errors.As(err, &aerr) {
		res.Status = StatusFail
	} else {
		res.Status = StatusError
	}
	res.Kind = harness.Kind(err)
	res.Message = err.Error()
}
