package media

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice emits a fixed payload and records whether the stream was
// released.
type fakeDevice struct {
	supported map[Container]bool
	payload   []byte
	openErr   error

	mu       sync.Mutex
	released bool
}

type fakeStream struct {
	device *fakeDevice
	reader *bytes.Reader
	closed chan struct{}
	once   sync.Once
}

func (d *fakeDevice) Supports(c Container) bool {
	return d.supported[c]
}

func (d *fakeDevice) Open(_ context.Context, _ Container) (io.ReadCloser, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{device: d, reader: bytes.NewReader(d.payload), closed: make(chan struct{})}, nil
}

func (s *fakeStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err == io.EOF {
		// Block like a live capture would until the recorder closes us.
		<-s.closed
		return 0, io.EOF
	}
	return n, err
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.device.mu.Lock()
		s.device.released = true
		s.device.mu.Unlock()
	})
	return nil
}

func (d *fakeDevice) wasReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func allFormats() map[Container]bool {
	return map[Container]bool{
		ContainerOggOpus: true,
		ContainerWebm:    true,
		ContainerMP4:     true,
		ContainerWav:     true,
	}
}

func TestStartStopYieldsBufferedBytes(t *testing.T) {
	device := &fakeDevice{supported: allFormats(), payload: []byte("captured-audio-bytes")}
	rec := NewRecorder(device)

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, StateRecording, rec.State())

	data, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("captured-audio-bytes"), data)
	assert.Equal(t, StateStopped, rec.State())
	assert.True(t, device.wasReleased())
}

func TestNegotiationPrefersOpus(t *testing.T) {
	device := &fakeDevice{supported: allFormats(), payload: []byte("x")}
	rec := NewRecorder(device)

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, ContainerOggOpus, rec.Container())
	rec.Cancel()
}

func TestNegotiationFallsBackThroughPreferenceOrder(t *testing.T) {
	device := &fakeDevice{supported: map[Container]bool{ContainerMP4: true}, payload: []byte("x")}
	rec := NewRecorder(device)

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, ContainerMP4, rec.Container())
	rec.Cancel()
}

func TestStartFailsWithoutSupportedFormat(t *testing.T) {
	device := &fakeDevice{supported: map[Container]bool{}}
	rec := NewRecorder(device)

	err := rec.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoSupportedFormat)
	assert.Equal(t, StateIdle, rec.State())
}

func TestCancelDiscardsBytesAndReleasesDevice(t *testing.T) {
	device := &fakeDevice{supported: allFormats(), payload: []byte("never-to-be-seen")}
	rec := NewRecorder(device)

	require.NoError(t, rec.Start(context.Background()))
	rec.Cancel()

	assert.Equal(t, StateIdle, rec.State())
	assert.True(t, device.wasReleased())

	// A cancelled capture yields nothing to upload.
	_, err := rec.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestDoubleStartRejected(t *testing.T) {
	device := &fakeDevice{supported: allFormats(), payload: []byte("x")}
	rec := NewRecorder(device)

	require.NoError(t, rec.Start(context.Background()))
	assert.ErrorIs(t, rec.Start(context.Background()), ErrAlreadyRecording)
	rec.Cancel()
}

func TestStopWhenIdleRejected(t *testing.T) {
	rec := NewRecorder(&fakeDevice{supported: allFormats()})
	_, err := rec.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}
