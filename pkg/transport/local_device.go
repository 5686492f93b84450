package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// LocalDeviceTransport drives the machine's own microphone and speakers
// through a malgo duplex device, for the CLI agent and for local testing
// without a network peer.
type LocalDeviceTransport struct {
	sampleRate int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu          sync.Mutex
	playbackBuf []byte
}

// NewLocalDeviceTransport initializes the malgo audio context but does not
// open the device yet; Start does that.
func NewLocalDeviceTransport(sampleRate int) (*LocalDeviceTransport, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &LocalDeviceTransport{sampleRate: sampleRate, malgoCtx: mctx}, nil
}

func (t *LocalDeviceTransport) SampleRate() int { return t.sampleRate }

// Start opens a duplex capture+playback device. onCapture is invoked from
// the device's audio callback on every input buffer; it must not block.
// Start returns once the device is running; it does not itself block on
// ctx — callers should select on ctx.Done() and call Close.
func (t *LocalDeviceTransport) Start(ctx context.Context, onCapture func([]byte)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(t.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil && onCapture != nil {
			onCapture(pInput)
		}
		if pOutput != nil {
			t.mu.Lock()
			n := copy(pOutput, t.playbackBuf)
			t.playbackBuf = t.playbackBuf[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			t.mu.Unlock()
		}
	}

	device, err := malgo.InitDevice(t.malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return fmt.Errorf("failed to init audio device: %w", err)
	}
	t.device = device

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	return nil
}

func (t *LocalDeviceTransport) Play(chunk []byte) error {
	t.mu.Lock()
	t.playbackBuf = append(t.playbackBuf, chunk...)
	t.mu.Unlock()
	return nil
}

func (t *LocalDeviceTransport) FlushPlayback() {
	t.mu.Lock()
	t.playbackBuf = nil
	t.mu.Unlock()
}

func (t *LocalDeviceTransport) Close() error {
	if t.device != nil {
		t.device.Uninit()
		t.device = nil
	}
	if t.malgoCtx != nil {
		t.malgoCtx.Uninit()
	}
	return nil
}
