// Package relay drives the physical gate outputs.
//
// Each relay is a small state machine over the last-commanded mode:
// Normal, OpenHold or CloseHold.  Holds come from operator overrides and
// pin the output; the normal_rfid pulse used for granted credentials
// runs on its own goroutine so the dwell delay never stalls the
// decision path, and is only issued when the relay is in Normal mode.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

var (
	ErrUnknownRelay  = errors.New("unknown relay")
	ErrInvalidAction = errors.New("invalid relay action")
)

// Output is the binary actuator behind a relay.  Implementations talk
// to GPIO (or a test double); Drive must be cheap and non-blocking.
type Output interface {
	Drive(pin int, active bool) error
}

// Action names accepted by Apply.  They match the identifiers used by
// the dashboard and the remote override document.
const (
	ActionOpenHold   = "open_hold"
	ActionCloseHold  = "close_hold"
	ActionNormal     = "normal"
	ActionNormalRFID = "normal_rfid"
)

type relayUnit struct {
	pin   int
	state types.RelayState
}

// Controller owns every relay in the gateway.
type Controller struct {
	out    Output
	dwell  time.Duration
	logger *logrus.Logger

	mu     sync.Mutex
	relays map[int]*relayUnit
}

// NewController registers one relay per (id, pin) pair.  A nil Output
// (hardware unavailable at startup) leaves the controller operating on
// state only: commands update state and log, pins are never driven.
func NewController(out Output, pins map[int]int, dwell time.Duration, logger *logrus.Logger) *Controller {
	if dwell <= 0 {
		dwell = time.Second
	}
	relays := make(map[int]*relayUnit, len(pins))
	for id, pin := range pins {
		relays[id] = &relayUnit{pin: pin, state: types.RelayNormal}
	}
	return &Controller{out: out, dwell: dwell, logger: logger, relays: relays}
}

// State returns the last-commanded mode for the relay.
func (c *Controller) State(id int) (types.RelayState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[id]
	if !ok {
		return types.RelayNormal, fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	return r.state, nil
}

// Apply executes a named action on a relay.  Commands are idempotent;
// unknown relays and actions are rejected, never fatal.
func (c *Controller) Apply(action string, id int) error {
	switch action {
	case ActionOpenHold:
		return c.hold(id, types.RelayOpenHold, true)
	case ActionCloseHold:
		return c.hold(id, types.RelayCloseHold, false)
	case ActionNormal:
		return c.normal(id)
	case ActionNormalRFID:
		return c.Pulse(id)
	default:
		c.logger.WithFields(logrus.Fields{"relay": id, "action": action}).Warn("invalid relay action")
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

func (c *Controller) hold(id int, state types.RelayState, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[id]
	if !ok {
		c.logger.WithField("relay", id).Warn("invalid relay identifier")
		return fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	r.state = state
	c.drive(id, r.pin, active)
	c.logger.WithFields(logrus.Fields{"relay": id, "state": state.String()}).Info("relay hold applied")
	return nil
}

// normal releases a hold and de-energizes the pin; an open-hold left
// energized would keep the gate open.
func (c *Controller) normal(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[id]
	if !ok {
		c.logger.WithField("relay", id).Warn("invalid relay identifier")
		return fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	r.state = types.RelayNormal
	c.drive(id, r.pin, false)
	c.logger.WithField("relay", id).Info("relay set to normal mode")
	return nil
}

// Pulse drives the relay active for the dwell period, then releases it.
// The dwell runs on its own goroutine; Pulse returns immediately.
func (c *Controller) Pulse(id int) error {
	c.mu.Lock()
	r, ok := c.relays[id]
	if !ok {
		c.mu.Unlock()
		c.logger.WithField("relay", id).Warn("invalid relay identifier")
		return fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	r.state = types.RelayNormal
	pin := r.pin
	c.drive(id, pin, true)
	c.mu.Unlock()

	go func() {
		time.Sleep(c.dwell)
		c.mu.Lock()
		// A hold applied during the dwell owns the pin now.
		if r.state == types.RelayNormal {
			c.drive(id, pin, false)
		}
		c.mu.Unlock()
		c.logger.WithField("relay", id).Info("relay pulsed")
	}()
	return nil
}

// drive writes the pin if hardware is present.  Callers hold c.mu.
func (c *Controller) drive(id, pin int, active bool) {
	if c.out == nil {
		c.logger.WithField("relay", id).Debug("relay hardware unavailable, state-only")
		return
	}
	if err := c.out.Drive(pin, active); err != nil {
		c.logger.WithFields(logrus.Fields{"relay": id, "pin": pin}).WithError(err).Error("relay drive failed")
	}
}
