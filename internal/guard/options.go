package guard

import "time"

type options struct {
	now func() time.Time
}

// Option configures a guard.
type Option func(*options)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
