package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// JoinAll awaits all handles and returns their values in order. The first
// failure is returned and the remaining awaits are given up (the tasks
// themselves keep running).
func JoinAll(ctx context.Context, handles ...*Handle) ([]interface{}, error) {
	values := make([]interface{}, len(handles))

	// The calling task is suspended once here, the awaiting go routines below
	// must not touch its worker.
	s := suspenderFrom(ctx)
	s.Suspend()
	defer s.Resume()

	g, gctx := errgroup.WithContext(Detach(ctx))
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			v, err := h.Await(gctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
