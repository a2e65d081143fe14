// Package media implements the capture/encode/upload pipeline for
// attachments. A capture that is cancelled at any point can never surface
// as an uploaded attachment.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"messaging-service/internal/observability"
)

// State is the recorder lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateUploading State = "uploading"
	StateAttached  State = "attached"
	StateCancelled State = "cancelled"
)

// Container identifies an audio container format, in preference order.
type Container string

const (
	ContainerOggOpus Container = "audio/ogg;codecs=opus"
	ContainerWebm    Container = "audio/webm"
	ContainerMP4     Container = "audio/mp4"
	ContainerWav     Container = "audio/wav"
)

// preferredContainers is tried in order; the first one the device supports
// wins.
var preferredContainers = []Container{ContainerOggOpus, ContainerWebm, ContainerMP4, ContainerWav}

// CaptureDevice is the scoped audio/file capture resource. Open hands back
// a byte stream that the recorder drains; Close releases the underlying
// resource and must be safe to call once per Open on every exit path.
type CaptureDevice interface {
	Supports(c Container) bool
	Open(ctx context.Context, c Container) (io.ReadCloser, error)
}

var (
	ErrNotRecording      = errors.New("recorder is not recording")
	ErrAlreadyRecording  = errors.New("recorder is already recording")
	ErrRecordingCanceled = errors.New("recording was cancelled")
	ErrNoSupportedFormat = errors.New("capture device supports no known container")
)

// Recorder drives one capture at a time through the state machine
// Idle -> Recording -> {Stopped -> Uploading -> Attached} | {Cancelled -> Idle}.
type Recorder struct {
	device CaptureDevice

	mu        sync.Mutex
	state     State
	container Container
	stream    io.ReadCloser
	buf       []byte
	cancelled bool
	done      chan struct{}
}

// NewRecorder builds an idle recorder over the device.
func NewRecorder(device CaptureDevice) *Recorder {
	return &Recorder{device: device, state: StateIdle}
}

// State returns the current lifecycle position.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Container returns the negotiated container of the current capture.
func (r *Recorder) Container() Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.container
}

// Start negotiates a container, acquires the capture resource and begins
// buffering in the background. The resource is released on every exit path.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRecording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}

	container, ok := negotiate(r.device)
	if !ok {
		r.mu.Unlock()
		return ErrNoSupportedFormat
	}

	stream, err := r.device.Open(ctx, container)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("open capture: %w", err)
	}

	r.state = StateRecording
	r.container = container
	r.stream = stream
	r.buf = nil
	r.cancelled = false
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		chunk := make([]byte, 4096)
		for {
			n, err := stream.Read(chunk)
			if n > 0 {
				r.mu.Lock()
				if r.cancelled {
					// Discard everything captured after cancellation.
					r.mu.Unlock()
					return
				}
				r.buf = append(r.buf, chunk[:n]...)
				r.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop finalizes the buffered bytes and transitions to Stopped. The capture
// resource is released before Stop returns.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	stream, done := r.stream, r.done
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return nil, ErrRecordingCanceled
	}
	r.state = StateStopped
	return r.buf, nil
}

// Cancel discards all buffered bytes and releases the capture resource. A
// cancelled recording never produces an attachment.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.buf = nil
	r.state = StateCancelled
	stream, done := r.stream, r.done
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	<-done

	r.mu.Lock()
	r.buf = nil
	r.state = StateIdle
	r.mu.Unlock()

	observability.IncRecordingCancelled()
}

func negotiate(device CaptureDevice) (Container, bool) {
	for _, c := range preferredContainers {
		if device.Supports(c) {
			return c, true
		}
	}
	return "", false
}
