// Package pigpio is a minimal client for the pigpio daemon's socket
// interface.  The daemon owns the GPIO hardware; this process talks to
// it over TCP, which keeps the gateway itself free of kernel-level pin
// handling and lets tests stand in a fake daemon.
//
// Requests and responses are four little-endian uint32 words
// (cmd, p1, p2, p3/result).  Notification connections additionally
// stream fixed 12-byte level reports.
package pigpio

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Daemon command codes used by this client.
const (
	cmdModes = 0
	cmdRead  = 3
	cmdWrite = 4
	cmdNB    = 19
	cmdNC    = 21
	cmdNOIB  = 99
)

const (
	modeInput  = 0
	modeOutput = 1
)

// Conn is one request/response connection to the daemon.  Safe for
// concurrent use; commands are serialized on the wire.
type Conn struct {
	mu sync.Mutex
	c  net.Conn
}

func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial pigpiod %s: %w", addr, err)
	}
	return &Conn{c: c}, nil
}

func (c *Conn) Close() error { return c.c.Close() }

// Command sends one request and returns the daemon's result word.
// Negative results are daemon-side errors.
func (c *Conn) Command(cmd, p1, p2 uint32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:], cmd)
	binary.LittleEndian.PutUint32(req[4:], p1)
	binary.LittleEndian.PutUint32(req[8:], p2)
	if _, err := c.c.Write(req[:]); err != nil {
		return 0, fmt.Errorf("pigpiod write: %w", err)
	}

	var resp [16]byte
	if err := readFull(c.c, resp[:]); err != nil {
		return 0, fmt.Errorf("pigpiod read: %w", err)
	}
	res := int32(binary.LittleEndian.Uint32(resp[12:]))
	if res < 0 {
		return res, fmt.Errorf("pigpiod command %d failed: status %d", cmd, res)
	}
	return res, nil
}

// SetInput configures a pin as an input.
func (c *Conn) SetInput(gpio int) error {
	_, err := c.Command(cmdModes, uint32(gpio), modeInput)
	return err
}

// SetOutput configures a pin as an output.
func (c *Conn) SetOutput(gpio int) error {
	_, err := c.Command(cmdModes, uint32(gpio), modeOutput)
	return err
}

// Write drives an output pin.
func (c *Conn) Write(gpio int, level bool) error {
	var lv uint32
	if level {
		lv = 1
	}
	_, err := c.Command(cmdWrite, uint32(gpio), lv)
	return err
}

// Read returns the current level of a pin.
func (c *Conn) Read(gpio int) (bool, error) {
	res, err := c.Command(cmdRead, uint32(gpio), 0)
	if err != nil {
		return false, err
	}
	return res != 0, nil
}

func readFull(c net.Conn, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := c.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
