package transport

import "encoding/json"

// Wire destinations. Inbound frames arrive on the personal queues; outbound
// publishes go to the application destinations. The names mirror the
// backend's routing scheme.
const (
	DestConnected = "/user/queue/connected"
	DestMessages  = "/user/queue/messages"
	DestTyping    = "/user/queue/typing"
	DestErrors    = "/user/queue/errors"

	DestChatSend   = "/app/chat.send"
	DestChatTyping = "/app/chat.typing"
)

// Frame is the websocket message envelope: a destination plus a JSON body.
type Frame struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// EncodeFrame marshals a frame with the given body.
func EncodeFrame(destination string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Destination: destination, Body: raw})
}

// DecodeFrame parses a raw websocket payload into a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// decodeErrorBody extracts the plain-text error the server pushes on the
// error queue. The body is either a JSON string or raw text.
func decodeErrorBody(body json.RawMessage) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	return string(body)
}
