package event

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier shared by EventId, TraceId, and ToolCallId
// (a ToolCallId is just the EventId of the originating ToolCall).
type ID [16]byte

// NewID generates a fresh random 128-bit identifier.
func NewID() ID {
	return ID(uuid.New())
}

// sessionIDNamespace anchors the deterministic TraceId derivation below.
// Any fixed UUID works; this one has no meaning beyond being constant.
var sessionIDNamespace = uuid.MustParse("6f8e2b2a-6b1a-4e2a-9c7a-2f7b8a9d4c10")

// DeriveTraceID turns a vendor-native session identifier (a Claude UUID
// string, a Codex session_meta id, a Gemini sessionId) into a stable
// TraceId. TraceId is specified as "128-bit random", but re-scanning the
// same on-disk session must yield the same TraceId (§8's scan/upsert
// idempotence property) rather than a fresh random value every time, so
// this derives it deterministically (UUIDv5) from the vendor id instead
// of minting a new random id per scan.
func DeriveTraceID(vendorSessionID string) ID {
	return ID(uuid.NewSHA1(sessionIDNamespace, []byte(vendorSessionID)))
}

// ParseID parses the canonical UUID string form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value (never a valid identifier,
// used as the "no parent" / "unset" sentinel alongside *ID pointers).
func (id ID) IsZero() bool {
	return id == ID{}
}

// HexPrefix returns the first n characters of the hyphen-free lowercase
// hex encoding, or all 32 when n is at least that long.
func (id ID) HexPrefix(n int) string {
	full := hex.EncodeToString(id[:])
	if n >= len(full) {
		return full
	}
	return full[:n]
}
