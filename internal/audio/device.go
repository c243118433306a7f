package audio

import "time"

// DeviceConfig sizes the host output.
type DeviceConfig struct {
	SampleRate   int
	Channels     int
	BufferFrames int
}

// bufferDuration converts the frame count into the latency the host buffer should hold.
func (c DeviceConfig) bufferDuration() time.Duration {
	if c.SampleRate <= 0 || c.BufferFrames <= 0 {
		return 0
	}
	return time.Duration(c.BufferFrames) * time.Second / time.Duration(c.SampleRate)
}
