// Package wiegand decodes the serial bit frames emitted by card readers.
//
// Each physical reader gets one Decoder.  Edge callbacks push bits into a
// buffered channel and return immediately; a dedicated goroutine drains
// the channel and runs the frame state machine, so nothing on the
// edge-capture path ever blocks or takes a lock shared with slow code.
package wiegand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Valid frame widths.  26-bit frames carry the credential in bits 1..24,
// 34-bit frames in bits 1..32; the first and last bit of either frame are
// parity and never reach the credential value.
const (
	Width26 = 26
	Width34 = 34
)

var ErrInvalidWidth = errors.New("unsupported wiegand frame width")

// Extract strips the parity bits from a completed frame and returns the
// credential.  Widths other than 26 and 34 are rejected.
func Extract(bits int, value uint64) (int64, error) {
	switch bits {
	case Width26:
		return int64((value >> 1) & 0xFFFFFF), nil
	case Width34:
		return int64((value >> 1) & 0xFFFFFFFF), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, bits)
	}
}

// Edge is one transition delivered by the hardware edge source.  Bit is
// 0 or 1 depending on which data line fired; Tick is a monotonic
// timestamp taken at capture time.
type Edge struct {
	Bit  uint8
	Tick time.Time
}

// CompleteFunc receives the raw value of a completed frame.  It runs on
// the decoder goroutine and must hand real work off elsewhere.
type CompleteFunc func(bits int, value uint64)

// Decoder accumulates edges into frames for a single reader.
type Decoder struct {
	readerID     int
	expectedBits int
	timeout      time.Duration
	onComplete   CompleteFunc
	logger       *logrus.Logger

	edges chan Edge

	// frame state, touched only by the drain goroutine
	value    uint64
	bits     int
	lastTick time.Time
}

// Config holds the parameters for New.
type Config struct {
	ReaderID     int
	ExpectedBits int           // 26 or 34
	Timeout      time.Duration // inter-bit timeout; stale partials reset
	Buffer       int           // edge channel capacity
}

func New(cfg Config, onComplete CompleteFunc, logger *logrus.Logger) (*Decoder, error) {
	if cfg.ExpectedBits != Width26 && cfg.ExpectedBits != Width34 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, cfg.ExpectedBits)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Millisecond
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	return &Decoder{
		readerID:     cfg.ReaderID,
		expectedBits: cfg.ExpectedBits,
		timeout:      cfg.Timeout,
		onComplete:   onComplete,
		logger:       logger,
		edges:        make(chan Edge, cfg.Buffer),
	}, nil
}

// Feed is the edge callback.  It never blocks: if the channel is full
// the edge is dropped and the frame resolves as a timeout reset later.
func (d *Decoder) Feed(e Edge) {
	select {
	case d.edges <- e:
	default:
		d.logger.WithField("reader", d.readerID).Warn("edge buffer full, bit dropped")
	}
}

// Run drains the edge channel until ctx is cancelled.
func (d *Decoder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.edges:
			d.processBit(e)
		}
	}
}

func (d *Decoder) processBit(e Edge) {
	if !d.lastTick.IsZero() && e.Tick.Sub(d.lastTick) > d.timeout {
		// Stale partial frame from an earlier presentation.
		d.value = 0
		d.bits = 0
	}

	d.value = d.value<<1 | uint64(e.Bit&1)
	d.bits++
	d.lastTick = e.Tick

	if d.bits == d.expectedBits {
		d.onComplete(d.bits, d.value)
		d.value = 0
		d.bits = 0
	}
}
