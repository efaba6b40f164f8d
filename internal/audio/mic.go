package audio

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
)

// Microphone captures PCM16LE mono frames from the default input device.
// Start opens the device; frames are delivered until Stop closes the channel.
type Microphone struct {
	sampleRate int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []byte
	running bool
}

// NewMicrophone creates a capture device wrapper at the given sample rate.
func NewMicrophone(sampleRate int) *Microphone {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	return &Microphone{sampleRate: sampleRate}
}

// SampleRate reports the capture rate in Hz.
func (m *Microphone) SampleRate() int { return m.sampleRate }

// Start opens the capture device and returns the frame channel.
func (m *Microphone) Start() (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, errors.New("microphone already started")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	frames := make(chan []byte, 256)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			if len(pInputSamples) == 0 {
				return
			}
			frame := make([]byte, len(pInputSamples))
			copy(frame, pInputSamples)
			m.mu.Lock()
			defer m.mu.Unlock()
			if !m.running {
				return
			}
			select {
			case frames <- frame:
			default:
				log.Println("mic: frame buffer full, dropping frame")
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	m.ctx, m.device, m.frames, m.running = mctx, device, frames, true
	return frames, nil
}

// Stop releases the device and closes the frame channel.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	device, mctx, frames := m.device, m.ctx, m.frames
	m.device, m.ctx, m.frames = nil, nil, nil
	close(frames)
	m.mu.Unlock()

	// Stop waits for the data callback to return, so it must run unlocked.
	var err error
	if device != nil {
		err = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
	return err
}
