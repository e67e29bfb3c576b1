package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/transport"
)

// fakeMessage implements paho.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testFrame() *codec.Frame {
	return &codec.Frame{
		Format:      0x82,
		Mode:        codec.AddressPhysical,
		Dst:         0x10,
		Src:         0xF1,
		Service:     codec.ServiceReadDataByLocalIdentifier,
		ServiceName: "readDataByLocalIdentifier",
		Params:      []byte{0x01},
		Checksum:    0xA5,
		Start:       testTime,
		End:         testTime.Add(6 * time.Millisecond),
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{
		Broker: "tcp://localhost:1883",
		BusID:  "test",
	})

	if tr.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, tr.cfg.TopicPrefix)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	tr := New(Config{
		Broker:      "tcp://broker.example.com:1883",
		Username:    "user",
		Password:    "pass",
		TopicPrefix: "custom",
		BusID:       "bench",
	})

	if got, want := tr.topic(framesSuffix), "custom/bench/frames"; got != want {
		t.Errorf("frames topic = %q, want %q", got, want)
	}
	if got, want := tr.topic(errorsSuffix), "custom/bench/errors"; got != want {
		t.Errorf("errors topic = %q, want %q", got, want)
	}
}

func TestStart_MissingBroker(t *testing.T) {
	tr := New(Config{BusID: "test"})
	err := tr.Start(context.Background())
	if err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestStart_MissingBusID(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	err := tr.Start(context.Background())
	if err == nil {
		t.Fatal("expected error with empty bus ID")
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{
		Broker: "tcp://localhost:1883",
		BusID:  "test",
	})

	if err := tr.SendFrame(testFrame()); err == nil {
		t.Fatal("expected error when not connected")
	}
	if err := tr.PublishError(&codec.DecodeError{Kind: codec.KindInvalidChecksum}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestIsConnected_Default(t *testing.T) {
	tr := New(Config{
		Broker: "tcp://localhost:1883",
		BusID:  "test",
	})

	if tr.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func TestFrameMessage_RoundTrip(t *testing.T) {
	in := testFrame()

	payload, err := encodeFrameMessage(in)
	if err != nil {
		t.Fatalf("encodeFrameMessage() error = %v", err)
	}

	out, err := decodeFrameMessage(payload)
	if err != nil {
		t.Fatalf("decodeFrameMessage() error = %v", err)
	}

	// Format and Checksum are recomputed from the wire bytes.
	opts := cmpopts.IgnoreFields(codec.Frame{}, "Format", "Checksum")
	if diff := cmp.Diff(in, out, opts); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
	if out.Format != 0x82 {
		t.Errorf("format = %#x, want 0x82", out.Format)
	}
}

func TestFrameMessage_KeepsBusHeader(t *testing.T) {
	// Physical frame whose length travelled in its own byte.
	wire := []byte{0x80, 0x10, 0xF1, 0x02, 0x3E, 0x00, 0xC1}
	onBus, _, err := codec.DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	payload, err := encodeFrameMessage(onBus)
	if err != nil {
		t.Fatalf("encodeFrameMessage() error = %v", err)
	}
	relayed, err := decodeFrameMessage(payload)
	if err != nil {
		t.Fatalf("decodeFrameMessage() error = %v", err)
	}

	if diff := cmp.Diff(onBus, relayed); diff != "" {
		t.Errorf("relayed frame mismatch (-bus +relayed):\n%s", diff)
	}
	if relayed.Format != 0x80 || !relayed.ExplicitLength {
		t.Errorf("format = %#x explicit = %v, want 0x80 with a length byte", relayed.Format, relayed.ExplicitLength)
	}
}

func TestDecodeFrameMessage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "nope"},
		{name: "bad checksum", payload: `{"data":"Aj4AQQ=="}`}, // 02 3E 00 41
		{name: "trailing", payload: `{"data":"Aj4AQAA="}`},     // 02 3E 00 40 00
		{name: "truncated", payload: `{"data":"Aj4="}`},        // 02 3E
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeFrameMessage([]byte(tt.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestErrorMessage_RoundTrip(t *testing.T) {
	in := &codec.DecodeError{Kind: codec.KindInvalidLength, Start: testTime, End: testTime.Add(time.Millisecond)}

	payload, err := encodeErrorMessage(in)
	if err != nil {
		t.Fatalf("encodeErrorMessage() error = %v", err)
	}
	out, err := decodeErrorMessage(payload)
	if err != nil {
		t.Fatalf("decodeErrorMessage() error = %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}

	if _, err := decodeErrorMessage([]byte(`{"kind":"bogus"}`)); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestHandleMessage(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", BusID: "bench"})

	var frames []*codec.Frame
	var errs []*codec.DecodeError
	tr.SetFrameHandler(func(f *codec.Frame, source transport.FrameSource) {
		if source != transport.FrameSourceMQTT {
			t.Errorf("expected FrameSourceMQTT, got %v", source)
		}
		frames = append(frames, f)
	})
	tr.SetErrorHandler(func(e *codec.DecodeError, _ transport.FrameSource) {
		errs = append(errs, e)
	})

	framePayload, _ := encodeFrameMessage(testFrame())
	errPayload, _ := encodeErrorMessage(&codec.DecodeError{Kind: codec.KindUnsupportedFormat})

	tr.handleMessage(nil, &fakeMessage{topic: "kwp2000/bench/frames", payload: framePayload})
	tr.handleMessage(nil, &fakeMessage{topic: "kwp2000/bench/errors", payload: errPayload})
	tr.handleMessage(nil, &fakeMessage{topic: "kwp2000/bench/frames", payload: framePayload})
	tr.handleMessage(nil, &fakeMessage{topic: "kwp2000/bench/frames", payload: []byte("garbage")})
	tr.handleMessage(nil, &fakeMessage{topic: "kwp2000/bench/other", payload: framePayload})

	if len(frames) != 1 {
		t.Errorf("got %d frames, want 1 (redelivery dropped)", len(frames))
	}
	if len(errs) != 1 || errs[0].Kind != codec.KindUnsupportedFormat {
		t.Errorf("errors = %+v, want one unsupported format", errs)
	}
}
