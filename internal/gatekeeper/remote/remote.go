// Package remote holds the outbound sinks: the transaction endpoint,
// the image blob stores, the base64 JSON document endpoint, and the
// relay command poll.  Every sink distinguishes transient failures
// (retry later) from permanent ones (do not resend this payload).
package remote

import (
	"errors"
	"fmt"
)

// ErrPermanent marks an upload failure that retrying cannot fix, such
// as a payload the server rejects for size.  Callers drop the payload
// instead of requeueing it.
var ErrPermanent = errors.New("permanent upload failure")

func permanentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPermanent)...)
}
