package sync

// Status is the controller-visible sync state shown to the rest of the
// application.
type Status string

// Controller statuses.
const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Controller is the single externally visible sync switch. It forwards to
// the engine and exposes a coarse status for display; it holds no business
// logic of its own.
type Controller struct {
	engine *Engine
}

// NewController wraps an engine.
func NewController(engine *Engine) *Controller {
	return &Controller{engine: engine}
}

// Enable turns sync on.
func (c *Controller) Enable() error {
	return c.engine.Enable()
}

// Disable turns sync off. Local operation continues unaffected.
func (c *Controller) Disable() {
	c.engine.Disable()
}

// Enabled reports the switch position.
func (c *Controller) Enabled() bool {
	return c.engine.Enabled()
}

// Status maps the engine state machine onto the three display states.
func (c *Controller) Status() Status {
	switch c.engine.State() {
	case StatePulling, StatePushing:
		return StatusSyncing
	case StateError:
		return StatusError
	default:
		return StatusIdle
	}
}
