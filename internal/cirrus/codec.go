package cirrus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// FrameKind distinguishes the two native WebSocket payload types.
type FrameKind int

const (
	// FrameText is a JSON control or data envelope.
	FrameText FrameKind = iota
	// FrameBinary is an opaque binary payload.
	FrameBinary
)

// String returns the kind name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one classified inbound frame.
// Response is set for text frames, Data for binary frames.
type Frame struct {
	Kind     FrameKind
	Response *Response
	Data     []byte
}

// Encode serialises req as a text frame stamped with messageId id.
//
// The wire object is the JSON form of req, plus any Passthrough extras that
// do not collide with typed fields, plus messageType and messageIdentifier.
func Encode(req Request, id string) ([]byte, error) {
	fields, err := requestFields(req)
	if err != nil {
		return nil, err
	}

	if ex, ok := req.(extender); ok {
		for k, v := range ex.extraFields() {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}

	fields["messageType"] = req.MessageType()
	fields["messageIdentifier"] = MessageIdentifier{
		ResourceType: "MessageIdentifier",
		MessageID:    id,
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	return data, nil
}

// requestFields flattens req into a generic JSON object.
func requestFields(req Request) (map[string]any, error) {
	switch r := req.(type) {
	case RawRequest:
		return copyFields(r.Fields), nil
	case *RawRequest:
		return copyFields(r.Fields), nil
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	// UseNumber keeps epoch millisecond timestamps exact on re-encode.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	return fields, nil
}

func copyFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Classify turns a raw WebSocket message into a Frame.
//
// Text frames must hold a JSON object; anything else is reported as not ok
// and the caller drops it. Binary frames pass through untouched.
func Classify(messageType int, data []byte) (Frame, bool) {
	switch messageType {
	case websocket.TextMessage:
		resp, err := ParseResponse(data)
		if err != nil {
			return Frame{}, false
		}
		return Frame{Kind: FrameText, Response: resp}, true
	case websocket.BinaryMessage:
		return Frame{Kind: FrameBinary, Data: data}, true
	default:
		return Frame{}, false
	}
}

// ParseResponse decodes a JSON text frame into a Response.
func ParseResponse(data []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidFrame)
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	resp.Raw = append(json.RawMessage(nil), trimmed...)
	return &resp, nil
}
