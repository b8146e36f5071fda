package main

import (
	"context"
	"fmt"

	"github.com/manyfold/manyfold/internal/backup"
	"github.com/manyfold/manyfold/internal/profile"
)

const observerBuffer = 64

// runProfile executes one backup profile: it reconciles the source
// mapping, hands every source to its own backup driver, bounds them with
// the worker pool and consumes the observer channel until all drivers have
// finished or the context is cancelled.
func (prog *program) runProfile(ctx context.Context, snapshot profile.Profile) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("profile not runnable: %w", err)
	}

	if len(snapshot.Sources) == 0 || len(snapshot.Destinations) == 0 {
		prog.log.Warn("profile has no sources or no destinations, doing nothing",
			"profile", snapshot.Name,
		)

		return nil
	}

	mapping := profile.NewMapping()
	if mapping.TryLoad(prog.fsys, prog.log, snapshot.Destinations, prog.cfg.SourceMapName) {
		mapping.Synchronize(snapshot)
	} else {
		prog.log.Info("no usable source mapping found, generating a new one",
			"profile", snapshot.Name,
		)
		mapping.Generate(snapshot)
	}
	mapping.TrySave(prog.fsys, prog.log, snapshot.Destinations, prog.cfg.SourceMapName)

	observer := make(chan backup.Message, observerBuffer)
	pool := backup.NewPool(prog.log, prog.cfg.ThreadCount)

	drivers := make([]*backup.Driver, 0, len(snapshot.Sources))
	for _, source := range snapshot.Sources {
		d := backup.NewDriver(prog.fsys, prog.log, source, snapshot.Destinations, observer, backup.DriverOptions{
			DestName:      mapping.Get(source),
			IgnoredErrors: prog.cfg.IgnoredErrors,
		})
		drivers = append(drivers, d)
		pool.Submit(d)
	}

	prog.log.Info("backup run starting",
		"profile", snapshot.Name,
		"sources", len(snapshot.Sources),
		"destinations", len(snapshot.Destinations),
		"threadcount", prog.cfg.ThreadCount,
	)

	finished := 0
	errCount := 0

	for finished < len(drivers) {
		select {
		case <-ctx.Done():
			for _, d := range drivers {
				d.Abort()
			}
			prog.drainShutdown(pool, observer)

			return fmt.Errorf("backup run interrupted: %w", ctx.Err())

		case msg := <-observer:
			switch v := msg.(type) {
			case backup.ProgressUpdate:
				prog.log.Debug("progress",
					"source", v.Source,
					"percent", fmt.Sprintf("%.1f", v.Percent),
					"message", v.Message,
				)

			case backup.ErrorMessage:
				errCount++
				prog.log.Error("backup error",
					"source", v.Source,
					"variant", string(v.Err.Kind),
					"error", v.Err,
					"error-type", "runtime",
				)

			case backup.Finished:
				finished++
				prog.log.Info("source finished",
					"source", v.Source,
					"remaining", len(drivers)-finished,
				)
			}
		}
	}

	pool.Shutdown()

	if errCount > 0 {
		prog.log.Warn("backup run completed, but errors were recorded",
			"profile", snapshot.Name,
			"errors", errCount,
		)
	}

	return nil
}

// drainShutdown keeps consuming observer messages while the pool joins its
// aborted drivers, so none of them blocks on a full channel mid-exit.
func (prog *program) drainShutdown(pool *backup.Pool, observer <-chan backup.Message) {
	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	for {
		select {
		case <-observer:
		case <-done:
			return
		}
	}
}
