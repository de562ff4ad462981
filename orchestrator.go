package tunnelkeeper

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// RunFile parses the configuration file at path and runs a supervisor for
// every target in it. Configuration errors are returned before any
// supervisor is started.
func RunFile(ctx context.Context, path string, opts ...Option) error {
	c, err := buildConfig(opts)
	if err != nil {
		return err
	}

	c.Logger.Debug("reading configuration", "path", path)
	targets, err := ParseFile(path, WithParseLogger(c.Logger))
	if err != nil {
		return err
	}
	return run(ctx, targets, c)
}

// Run starts one supervisor per target and blocks until all of them have
// returned, which under normal operation only happens once ctx is done.
// With no targets it returns immediately. A supervisor that ends does not
// affect the others.
func Run(ctx context.Context, targets []Target, opts ...Option) error {
	c, err := buildConfig(opts)
	if err != nil {
		return err
	}
	return run(ctx, targets, c)
}

func run(ctx context.Context, targets []Target, c Config) error {
	if len(targets) == 0 {
		c.Logger.Warn("no targets configured")
		return nil
	}

	// A plain Group: no shared context, so one supervisor returning does
	// not cancel its siblings.
	var g errgroup.Group
	for _, t := range targets {
		s := newSupervisor(t, c)
		g.Go(func() error {
			err := s.Run(ctx)
			if errors.Is(err, ErrInterrupted) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
