package types

// UserRecord is one entry of the local allow-list, keyed by card number.
// CardNumber is a numeric string; records whose card number does not parse
// as an integer stay in the persisted mapping for display but can never
// match a decoded credential.
type UserRecord struct {
	ID         string `json:"id"`
	RefID      string `json:"ref_id"`
	Name       string `json:"name"`
	CardNumber string `json:"card_number"`
}

// CredentialEvent is a completed reader frame before parity stripping.
// Ephemeral: produced by the decoder, consumed immediately by the engine.
type CredentialEvent struct {
	ReaderID int
	BitCount int
	RawValue uint64
}

// RelayState reflects the last-commanded mode of a relay, not the raw
// pin level (a Normal relay briefly drives its pin during a pulse).
type RelayState int

const (
	RelayNormal RelayState = iota
	RelayOpenHold
	RelayCloseHold
)

func (s RelayState) String() string {
	switch s {
	case RelayOpenHold:
		return "open_hold"
	case RelayCloseHold:
		return "close_hold"
	default:
		return "normal"
	}
}
