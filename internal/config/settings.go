package config

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Settings holds the values an operator can change while the gateway is
// running: the scan cooldown, the upload mode and per-reader camera
// enables.  The decision path only ever reads the current snapshot; the
// dashboard (or any other collaborator) swaps in a whole new one, so no
// reader can observe a half-applied change.
type Settings struct {
	ScanCooldown       time.Duration
	AlternateTransport bool
	CameraEnabled      map[int]bool // reader ID -> capture on decision
}

// Runtime is the shared handle to the live Settings snapshot.
type Runtime struct {
	current atomic.Pointer[Settings]
}

// NewRuntime seeds the snapshot from the environment.
func NewRuntime() *Runtime {
	r := &Runtime{}
	s := &Settings{
		ScanCooldown:       getenvDuration("GATEKEEPER_SCAN_COOLDOWN", 60*time.Second),
		AlternateTransport: getenvBool("GATEKEEPER_JSON_UPLOAD_ENABLED", false),
		CameraEnabled:      map[int]bool{},
	}
	for i := 1; i <= getenvInt("GATEKEEPER_READERS", 3); i++ {
		s.CameraEnabled[i] = getenvBool("GATEKEEPER_CAMERA_"+strconv.Itoa(i)+"_ENABLED", true)
	}
	r.current.Store(s)
	return r
}

// Current returns the live snapshot.  Never nil.
func (r *Runtime) Current() *Settings {
	return r.current.Load()
}

// Update applies fn to a copy of the current snapshot and publishes it.
func (r *Runtime) Update(fn func(*Settings)) {
	old := r.current.Load()
	next := &Settings{
		ScanCooldown:       old.ScanCooldown,
		AlternateTransport: old.AlternateTransport,
		CameraEnabled:      make(map[int]bool, len(old.CameraEnabled)),
	}
	for k, v := range old.CameraEnabled {
		next.CameraEnabled[k] = v
	}
	fn(next)
	r.current.Store(next)
}
