package serial

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/transport"
)

// makeTestFrame creates a simple addressed KWP2000 request.
func makeTestFrame() *codec.Frame {
	return &codec.Frame{
		Mode:    codec.AddressPhysical,
		Dst:     0x10,
		Src:     0xF1,
		Service: codec.ServiceReadECUIdentification,
		Params:  []byte{0x9B},
	}
}

// encodeFrame wraps a frame in its wire encoding.
func encodeFrame(t *testing.T, f *codec.Frame) []byte {
	t.Helper()
	data, err := codec.EncodeFrame(f)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return data
}

func TestProcessBytes_SingleFrame(t *testing.T) {
	frame := makeTestFrame()
	data := encodeFrame(t, frame)

	var received []*codec.Frame
	var mu sync.Mutex

	tr := New(Config{Port: "/dev/null"})
	tr.SetFrameHandler(func(f *codec.Frame, source transport.FrameSource) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, f)
		if source != transport.FrameSourceSerial {
			t.Errorf("expected FrameSourceSerial, got %v", source)
		}
	})

	tr.processBytes(data)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(received))
	}
	if received[0].ServiceName != "readEcuIdentification" {
		t.Errorf("service name = %q, want readEcuIdentification", received[0].ServiceName)
	}
	if received[0].Dst != 0x10 || received[0].Src != 0xF1 {
		t.Errorf("dst/src = %#x/%#x, want 0x10/0xf1", received[0].Dst, received[0].Src)
	}
	if received[0].End.Before(received[0].Start) {
		t.Error("frame ends before it starts")
	}
}

func TestProcessBytes_RequestAndResponse(t *testing.T) {
	req := encodeFrame(t, makeTestFrame())
	resp := encodeFrame(t, &codec.Frame{
		Mode:    codec.AddressPhysical,
		Dst:     0xF1,
		Src:     0x10,
		Service: codec.ServiceReadECUIdentification | codec.ServiceResponseBit,
		Params:  []byte{0x9B, 0x30, 0x31, 0x32},
	})

	var received []*codec.Frame

	tr := New(Config{Port: "/dev/null"})
	tr.SetFrameHandler(func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	})

	tr.processBytes(append(req, resp...))

	if len(received) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(received))
	}
	if received[0].IsResponse() || !received[1].IsResponse() {
		t.Error("expected request followed by response")
	}
	if !received[1].Start.After(received[0].Start) {
		t.Error("response should start after request")
	}
}

func TestProcessBytes_IncrementalAssembly(t *testing.T) {
	data := encodeFrame(t, makeTestFrame())

	var received []*codec.Frame

	tr := New(Config{Port: "/dev/null"})
	tr.SetFrameHandler(func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	})

	// Feed bytes one read at a time, simulating slow serial arrival
	for _, b := range data {
		tr.processBytes([]byte{b})
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 frame after incremental assembly, got %d", len(received))
	}
}

func TestProcessBytes_Skip(t *testing.T) {
	data := encodeFrame(t, makeTestFrame())

	// Leftover bytes from before the sniffer attached.
	garbage := []byte{0x3E, 0x45}

	var received []*codec.Frame
	var errs []*codec.DecodeError

	tr := New(Config{Port: "/dev/null", Skip: len(garbage)})
	tr.SetFrameHandler(func(f *codec.Frame, _ transport.FrameSource) {
		received = append(received, f)
	})
	tr.SetErrorHandler(func(e *codec.DecodeError, _ transport.FrameSource) {
		errs = append(errs, e)
	})

	tr.processBytes(append(garbage, data...))

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %d", len(errs))
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 frame after skipping, got %d", len(received))
	}
	if c := tr.Counters(); c.Skipped != 2 || c.Frames != 1 {
		t.Errorf("counters = %+v", c)
	}
}

func TestProcessBytes_ErrorHandler(t *testing.T) {
	var errs []*codec.DecodeError

	tr := New(Config{Port: "/dev/null"})
	tr.SetErrorHandler(func(e *codec.DecodeError, source transport.FrameSource) {
		errs = append(errs, e)
		if source != transport.FrameSourceSerial {
			t.Errorf("expected FrameSourceSerial, got %v", source)
		}
	})

	tr.processBytes([]byte{0x45, 0x02, 0x3E, 0x00, 0x00})

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs[0].Kind != codec.KindUnsupportedFormat || errs[1].Kind != codec.KindInvalidChecksum {
		t.Errorf("error kinds = %v, %v", errs[0].Kind, errs[1].Kind)
	}
}

func TestProcessBytes_NoHandler(t *testing.T) {
	tr := New(Config{Port: "/dev/null"})
	// No handler set, must not panic
	tr.processBytes(encodeFrame(t, makeTestFrame()))
	tr.processBytes([]byte{0x45})
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null", BaudRate: 10400})

	err := tr.SendFrame(makeTestFrame())
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestStart_MissingPort(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(t.Context()); err == nil {
		t.Fatal("expected error with empty port")
	}
	if tr.IsConnected() {
		t.Error("expected not connected")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("expected default baud rate %d, got %d", DefaultBaudRate, tr.cfg.BaudRate)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
	if tr.clock == nil || tr.stream == nil {
		t.Error("expected clock and stream to be set")
	}
}

// chunkReader returns one chunk per Read, then err.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestReadLoop_DecodesUntilPortFails(t *testing.T) {
	data := encodeFrame(t, makeTestFrame())

	var (
		mu     sync.Mutex
		frames int
		events []transport.Event
	)
	tr := New(Config{Port: "/dev/null"})
	tr.SetFrameHandler(func(*codec.Frame, transport.FrameSource) {
		mu.Lock()
		defer mu.Unlock()
		frames++
	})
	tr.SetStateHandler(func(_ transport.Transport, ev transport.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	// The loop reads only the port it was given; the transport field stays nil.
	port := &chunkReader{
		chunks: [][]byte{data[:3], data[3:]},
		err:    errors.New("device disconnected"),
	}
	done := make(chan struct{})
	go tr.readLoop(t.Context(), port, done)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}
	if len(events) != 1 || events[0] != transport.EventDisconnected {
		t.Errorf("events = %v, want [disconnected]", events)
	}
	if tr.IsConnected() {
		t.Error("expected not connected after port failure")
	}
}

func TestReadLoop_EOF(t *testing.T) {
	tr := New(Config{Port: "/dev/null"})
	done := make(chan struct{})
	go tr.readLoop(t.Context(), &chunkReader{err: io.EOF}, done)
	<-done
}
