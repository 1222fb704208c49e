package core

import "context"

type primaryKey struct{}

// PrimaryContext marks ctx as belonging to the scheduler's primary producer,
// typically the main loop. Launches with such a context go to the primary
// queue, which every worker steals from first, and always wake a worker.
// Pushes from several goroutines are allowed but serialised.
func (s *Scheduler) PrimaryContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryKey{}, s)
}

func isPrimaryContext(ctx context.Context, s *Scheduler) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(primaryKey{}).(*Scheduler)
	return owner == s
}
