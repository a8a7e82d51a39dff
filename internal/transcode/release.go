package transcode

import "log/slog"

type closer struct {
	name string
	fn   func() error
}

// releaseStack closes acquired resources in reverse acquisition order.
type releaseStack struct {
	closers []closer
}

func (r *releaseStack) push(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// release pops and closes everything. Close errors are logged; a second
// call does nothing.
func (r *releaseStack) release(log *slog.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		r.closers[i] = closer{}
		if err := c.fn(); err != nil {
			log.Warn("release failed", "resource", c.name, "error", err)
			continue
		}
		log.Debug("released", "resource", c.name)
	}
	r.closers = nil
}

func (r *releaseStack) len() int {
	return len(r.closers)
}
