// Package metadata holds the headers gatebridge stamps on host messages.
package metadata

import "time"

// Keys stamped on every outbound control message so hosts and transports can
// route without decoding the payload.
const (
	KeyMessageType = "gatebridge_type"
	KeyParam       = "gatebridge_param"
	KeySentAt      = "gatebridge_sent_at"
)

// Metadata represents the headers carried alongside a host message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy that also holds key.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Control builds the headers of a control message.
func Control(messageType, param string, sentAt time.Time) Metadata {
	return New(
		KeyMessageType, messageType,
		KeyParam, param,
		KeySentAt, sentAt.UTC().Format(time.RFC3339Nano),
	)
}

// SentAt parses KeySentAt. ok is false when it is missing or malformed.
func (m Metadata) SentAt() (time.Time, bool) {
	raw, found := m[KeySentAt]
	if !found {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
