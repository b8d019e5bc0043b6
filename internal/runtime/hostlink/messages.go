package hostlink

import "github.com/drblury/gatebridge/internal/runtime/metadata"

// MessageType names an outbound control message.
type MessageType string

const (
	TypeParamChange          MessageType = "paramChange"
	TypeGestureBegin         MessageType = "gestureBegin"
	TypeGestureEnd           MessageType = "gestureEnd"
	TypeRequestInitialUpdate MessageType = "requestInitialUpdate"
)

// Metadata keys stamped on every outbound message so hosts and transports can
// route without decoding the payload.
const (
	MetadataKeyType  = metadata.KeyMessageType
	MetadataKeyParam = metadata.KeyParam
)

// OutboundMessage is the JSON body sent on the control topic.
type OutboundMessage struct {
	Type  MessageType `json:"type"`
	ID    string      `json:"id"`
	Value *float64    `json:"value,omitempty"`
}

// ParamChange carries a normalised value in [0,1].
func ParamChange(id string, normalized float64) OutboundMessage {
	return OutboundMessage{Type: TypeParamChange, ID: id, Value: &normalized}
}

func GestureBegin(id string) OutboundMessage {
	return OutboundMessage{Type: TypeGestureBegin, ID: id}
}

func GestureEnd(id string) OutboundMessage {
	return OutboundMessage{Type: TypeGestureEnd, ID: id}
}

// RequestInitialUpdate asks the host to push the current value of id.
func RequestInitialUpdate(id string) OutboundMessage {
	return OutboundMessage{Type: TypeRequestInitialUpdate, ID: id}
}
