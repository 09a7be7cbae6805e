package queue

import "sync"

// CommandKind identifies a control-plane command for the collector.
type CommandKind string

const (
	CmdStop         CommandKind = "stop"
	CmdCapture      CommandKind = "capture_current"
	CmdSetPoll      CommandKind = "set_poll_seconds"
	CmdSetIntensive CommandKind = "set_intensive_monitoring"
	CmdSetHTTPMode  CommandKind = "set_http_monitor_mode"
	CmdBackoff      CommandKind = "backoff"
)

// Command is one control-plane message. Acknowledgment is by subsequent
// event emission, not by return value.
type Command struct {
	Kind    CommandKind
	Seconds float64 // CmdSetPoll, CmdBackoff
	Enabled bool    // CmdSetIntensive, CmdSetHTTPMode
	Reason  string  // CmdStop
}

// Control is the small coalescing command queue. Repeated interval commands
// keep only the latest value; a stop subsumes everything pending.
type Control struct {
	mu      sync.Mutex
	pending []Command
	notify  chan struct{}
}

// NewControl creates an empty control queue.
func NewControl() *Control {
	return &Control{notify: make(chan struct{}, 1)}
}

// Post enqueues a command, applying the coalescing rules.
func (c *Control) Post(cmd Command) {
	c.mu.Lock()
	switch cmd.Kind {
	case CmdStop:
		c.pending = c.pending[:0]
		c.pending = append(c.pending, cmd)
	case CmdSetPoll, CmdBackoff, CmdSetIntensive, CmdSetHTTPMode:
		kept := c.pending[:0]
		for _, p := range c.pending {
			if p.Kind != cmd.Kind {
				kept = append(kept, p)
			}
		}
		c.pending = append(kept, cmd)
	default:
		c.pending = append(c.pending, cmd)
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Drain returns and clears all pending commands in post order.
func (c *Control) Drain() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]Command, len(c.pending))
	copy(out, c.pending)
	c.pending = c.pending[:0]
	return out
}

// Notify returns a channel that receives a token whenever a command is
// posted. The channel has capacity one; drain with Drain after a wakeup.
func (c *Control) Notify() <-chan struct{} { return c.notify }
