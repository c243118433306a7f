//go:build headless

package audio

import "sync"

// Device is the null output used by headless builds. It never pulls from the stream.
type Device struct {
	stream  *Stream
	started bool
	mutex   sync.Mutex
}

// OpenDevice always succeeds.
func OpenDevice(cfg DeviceConfig, stream *Stream) (*Device, error) {
	return &Device{stream: stream}, nil
}

func (d *Device) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.started = true
	return nil
}

func (d *Device) Suspend() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.started = false
}

func (d *Device) Close() error {
	d.Suspend()
	d.stream.Detach()
	return nil
}

func (d *Device) Started() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.started
}

func (d *Device) Backend() string { return "headless" }
