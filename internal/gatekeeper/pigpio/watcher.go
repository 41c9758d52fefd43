package pigpio

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Watch flags reported by the daemon.  Reports with any flag set are
// keep-alives or watchdogs, not level changes.
const (
	flagWatchdog = 1 << 5
	flagAlive    = 1 << 6
)

// EdgeFunc receives one observed level change.  It runs on the watcher
// goroutine and must not block.
type EdgeFunc func(gpio int, level bool, tick time.Time)

// Watcher streams level reports for a set of pins over a dedicated
// notification connection.
type Watcher struct {
	conn   *Conn
	handle uint32
	mask   uint32
	onEdge EdgeFunc
	logger *logrus.Logger

	lastLevel uint32
	haveLevel bool

	// daemon ticks are microseconds in a wrapping uint32; wall maps
	// them onto real time
	baseTick uint32
	baseTime time.Time
	haveTick bool
}

// NewWatcher opens a notification connection watching the given pins.
// Pins above 31 are outside the daemon's notification band.
func NewWatcher(addr string, pins []int, onEdge EdgeFunc, logger *logrus.Logger) (*Watcher, error) {
	var mask uint32
	for _, pin := range pins {
		if pin < 0 || pin > 31 {
			return nil, fmt.Errorf("pin %d not notifiable", pin)
		}
		mask |= 1 << uint(pin)
	}

	conn, err := Dial(addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	handle, err := conn.Command(cmdNOIB, 0, 0)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open notification channel: %w", err)
	}
	if _, err := conn.Command(cmdNB, uint32(handle), mask); err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin notifications: %w", err)
	}

	return &Watcher{
		conn:   conn,
		handle: uint32(handle),
		mask:   mask,
		onEdge: onEdge,
		logger: logger,
	}, nil
}

// Run consumes level reports until ctx is cancelled or the connection
// drops.
func (w *Watcher) Run(ctx context.Context) {
	defer w.close()
	go func() {
		<-ctx.Done()
		w.conn.c.SetReadDeadline(time.Now()) // unblock the read loop
	}()

	var report [12]byte
	for {
		if ctx.Err() != nil {
			return
		}
		if err := readFull(w.conn.c, report[:]); err != nil {
			if ctx.Err() == nil {
				w.logger.WithError(err).Error("notification stream lost")
			}
			return
		}
		w.handleReport(
			binary.LittleEndian.Uint16(report[2:]),
			binary.LittleEndian.Uint32(report[4:]),
			binary.LittleEndian.Uint32(report[8:]),
		)
	}
}

func (w *Watcher) handleReport(flags uint16, tick, level uint32) {
	if flags&(flagWatchdog|flagAlive) != 0 {
		return
	}
	if !w.haveTick {
		w.baseTick = tick
		w.baseTime = time.Now()
		w.haveTick = true
	}
	// uint32 subtraction is wrap-safe for gaps under ~71 minutes.
	at := w.baseTime.Add(time.Duration(tick-w.baseTick) * time.Microsecond)

	if !w.haveLevel {
		w.lastLevel = level
		w.haveLevel = true
		return
	}
	changed := (w.lastLevel ^ level) & w.mask
	w.lastLevel = level
	for pin := 0; changed != 0 && pin < 32; pin++ {
		bit := uint32(1) << uint(pin)
		if changed&bit == 0 {
			continue
		}
		changed &^= bit
		w.onEdge(pin, level&bit != 0, at)
	}
}

func (w *Watcher) close() {
	w.conn.c.SetReadDeadline(time.Time{})
	w.conn.Command(cmdNC, w.handle, 0)
	w.conn.Close()
}
