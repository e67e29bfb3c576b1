package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kabili207/kwp2000-go/core/codec"
)

// frameMessage is the JSON body published on the frames topic.
// Data holds the wire bytes, which json encodes as base64.
type frameMessage struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Data  []byte    `json:"data"`
}

// errorMessage is the JSON body published on the errors topic.
type errorMessage struct {
	Kind  string    `json:"kind"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func encodeFrameMessage(frame *codec.Frame) ([]byte, error) {
	data, err := codec.EncodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding KWP2000 frame: %w", err)
	}
	return json.Marshal(frameMessage{Start: frame.Start, End: frame.End, Data: data})
}

func decodeFrameMessage(payload []byte) (*codec.Frame, error) {
	var msg frameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decoding frame message: %w", err)
	}

	frame, remaining, err := codec.DecodeFrame(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding KWP2000 frame: %w", err)
	}
	if len(remaining) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after frame", len(remaining))
	}

	frame.Start = msg.Start
	frame.End = msg.End
	return frame, nil
}

func encodeErrorMessage(decErr *codec.DecodeError) ([]byte, error) {
	return json.Marshal(errorMessage{Kind: decErr.Kind.String(), Start: decErr.Start, End: decErr.End})
}

func decodeErrorMessage(payload []byte) (*codec.DecodeError, error) {
	var msg errorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decoding error message: %w", err)
	}

	kind, ok := codec.ParseErrorKind(msg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown error kind %q", msg.Kind)
	}
	return &codec.DecodeError{Kind: kind, Start: msg.Start, End: msg.End}, nil
}
