package workflow

import "sync"

// Holder owns the process-wide Controller. The Controller is built on
// first use, so a broken configuration surfaces when a run is requested
// rather than at startup.
type Holder struct {
	mu      sync.Mutex
	factory func() (*Controller, error)
	ctrl    *Controller
}

// NewHolder returns a Holder that builds its Controller with factory.
func NewHolder(factory func() (*Controller, error)) *Holder {
	return &Holder{factory: factory}
}

// Get returns the Controller, building it if needed. A failed build is
// not cached.
func (h *Holder) Get() (*Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctrl != nil {
		return h.ctrl, nil
	}
	c, err := h.factory()
	if err != nil {
		return nil, err
	}
	h.ctrl = c
	return c, nil
}

// Peek returns the Controller if it has been built, or nil.
func (h *Holder) Peek() *Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctrl
}

// Reset cancels any run in flight and drops the Controller. The next Get
// builds a new one, picking up configuration changes.
func (h *Holder) Reset() {
	h.mu.Lock()
	c := h.ctrl
	h.ctrl = nil
	h.mu.Unlock()
	if c != nil {
		c.CancelCurrentRun()
	}
}
