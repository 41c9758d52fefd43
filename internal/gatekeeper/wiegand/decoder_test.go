package wiegand_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/wiegand"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// feedFrame pushes the given bit string through a decoder, 1 ms apart so
// the inter-bit timeout never trips.
func feedFrame(t *testing.T, d *wiegand.Decoder, bits string, start time.Time) {
	t.Helper()
	tick := start
	for _, c := range bits {
		d.Feed(wiegand.Edge{Bit: uint8(c - '0'), Tick: tick})
		tick = tick.Add(time.Millisecond)
	}
}

// ── Extract ──────────────────────────────────────────────────────────────────

func TestExtract26StripsParityBits(t *testing.T) {
	// Credential 5001 framed with parity 1 on both ends: the parity bits
	// must not change the decoded value.
	var raw uint64 = 1<<25 | 5001<<1 | 1
	card, err := wiegand.Extract(26, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if card != 5001 {
		t.Errorf("expected 5001, got %d", card)
	}

	// Same payload with both parity bits zero decodes identically.
	card, err = wiegand.Extract(26, 5001<<1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if card != 5001 {
		t.Errorf("parity bits leaked into credential: got %d", card)
	}
}

func TestExtract34StripsParityBits(t *testing.T) {
	var payload uint64 = 0x12345678
	var raw uint64 = 1<<33 | payload<<1 | 1
	card, err := wiegand.Extract(34, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if uint64(card) != payload {
		t.Errorf("expected %d, got %d", payload, card)
	}
}

func TestExtractRejectsOtherWidths(t *testing.T) {
	for _, bits := range []int{0, 1, 8, 25, 27, 32, 33, 35, 64} {
		if _, err := wiegand.Extract(bits, 0); !errors.Is(err, wiegand.ErrInvalidWidth) {
			t.Errorf("width %d: expected ErrInvalidWidth, got %v", bits, err)
		}
	}
}

// ── Decoder ──────────────────────────────────────────────────────────────────

func newRunningDecoder(t *testing.T, expectedBits int) (*wiegand.Decoder, chan uint64) {
	t.Helper()

	frames := make(chan uint64, 4)
	d, err := wiegand.New(wiegand.Config{
		ReaderID:     1,
		ExpectedBits: expectedBits,
		Timeout:      25 * time.Millisecond,
	}, func(bits int, value uint64) {
		frames <- value
	}, silentLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d, frames
}

func TestDecoderEmitsCompleteFrame(t *testing.T) {
	d, frames := newRunningDecoder(t, 26)

	feedFrame(t, d, "10000000000001001110001001", time.Now())

	select {
	case v := <-frames:
		want := uint64(0b10000000000001001110001001)
		if v != want {
			t.Errorf("expected %b, got %b", want, v)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestDecoderEmitsNothingForShortFrame(t *testing.T) {
	d, frames := newRunningDecoder(t, 26)

	feedFrame(t, d, "101010101", time.Now())

	select {
	case v := <-frames:
		t.Fatalf("unexpected frame %b from a 9-bit burst", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDecoderResetsStalePartialFrame(t *testing.T) {
	d, frames := newRunningDecoder(t, 26)

	start := time.Now()
	// 10 bits of a frame that is then abandoned.
	feedFrame(t, d, "1111111111", start)

	// A full frame starting well past the inter-bit timeout: the stale
	// bits must not contaminate it.
	late := start.Add(500 * time.Millisecond)
	feedFrame(t, d, "00000000000000000000000010", late)

	select {
	case v := <-frames:
		if v != 0b10 {
			t.Errorf("stale bits leaked into frame: got %b", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame emitted after reset")
	}
}

func TestNewRejectsUnsupportedWidth(t *testing.T) {
	_, err := wiegand.New(wiegand.Config{ReaderID: 1, ExpectedBits: 37}, func(int, uint64) {}, silentLogger())
	if !errors.Is(err, wiegand.ErrInvalidWidth) {
		t.Fatalf("expected ErrInvalidWidth, got %v", err)
	}
}
