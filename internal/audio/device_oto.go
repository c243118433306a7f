//go:build !headless

package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Device plays a Stream through the host audio API.
type Device struct {
	ctx     *oto.Context
	player  *oto.Player
	stream  *Stream
	started bool
	mutex   sync.Mutex
}

// OpenDevice opens the host output. Failures wrap ErrAudioUnavailable and leave nothing running.
func OpenDevice(cfg DeviceConfig, stream *Stream) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: stream.Channels(),
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.bufferDuration(),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	<-ready
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	return &Device{ctx: ctx, stream: stream}, nil
}

// Start begins pulling from the stream.
func (d *Device) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.started {
		return nil
	}
	if d.player == nil {
		d.player = d.ctx.NewPlayer(d.stream)
	}
	d.player.Play()
	if err := d.player.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	d.started = true
	return nil
}

// Suspend pauses playback; the stream keeps its source so Start resumes where it left off.
func (d *Device) Suspend() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.started && d.player != nil {
		d.player.Pause()
		d.started = false
	}
}

// Close detaches the source and releases the player.
func (d *Device) Close() error {
	d.Suspend()
	d.stream.Detach()

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	return err
}

// Started reports whether the device is pulling samples.
func (d *Device) Started() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.started
}

// Backend names the output implementation.
func (d *Device) Backend() string { return "oto" }
