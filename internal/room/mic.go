package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const micFrameSamples = 960 // 20ms at 48kHz mono

// Microphone drives the local audio publication. Enabling it first waits for
// the noise filter to finish calibrating, so the first frame that reaches the
// track is already filtered. Disabling stops publication without touching the
// filter. Enabled always reflects what actually happened, never the attempt.
type Microphone struct {
	filter *NoiseFilter

	mu        sync.Mutex
	enabled   bool
	pcmBuf    []int16
	pub       *opusPublisher
	signal    func(muted bool) error
	observers map[int]func()
	nextObs   int
}

// NewMicrophone builds a microphone gated by the given noise filter. Until a
// transport attaches a publisher, toggling only tracks local state.
func NewMicrophone(filter *NoiseFilter) *Microphone {
	return &Microphone{
		filter:    filter,
		observers: make(map[int]func()),
	}
}

// attach wires the publisher and the mute-signal sender once media is up.
func (m *Microphone) attach(pub *opusPublisher, signal func(muted bool) error) {
	m.mu.Lock()
	m.pub = pub
	m.signal = signal
	m.mu.Unlock()
}

func (m *Microphone) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Microphone) FilterState() FilterState {
	return m.filter.State()
}

// SetEnabled toggles the microphone. Turning it on awaits noise-filter
// readiness before any frame is published; turning it off leaves the filter
// setting alone.
func (m *Microphone) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		if err := m.filter.WaitReady(ctx); err != nil {
			return fmt.Errorf("noise filter not ready: %w", err)
		}
	}

	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()
		return nil
	}
	signal := m.signal
	m.mu.Unlock()

	if signal != nil {
		if err := signal(!enabled); err != nil {
			// State stays at the transport-reported value.
			return fmt.Errorf("signal microphone state: %w", err)
		}
	}

	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	m.notify()
	return nil
}

// WritePCM feeds captured 48kHz mono little-endian PCM. Every complete frame
// runs through the noise filter, which keeps calibration moving even while the
// microphone is off; filtered frames are only published while enabled.
func (m *Microphone) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	m.mu.Lock()
	need := len(pcmBytes) / 2
	startLen := len(m.pcmBuf)
	if cap(m.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, m.pcmBuf)
		m.pcmBuf = tmp
	}
	m.pcmBuf = m.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		m.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	for len(m.pcmBuf) >= micFrameSamples {
		frame := make([]int16, micFrameSamples)
		copy(frame, m.pcmBuf[:micFrameSamples])
		copy(m.pcmBuf, m.pcmBuf[micFrameSamples:])
		m.pcmBuf = m.pcmBuf[:len(m.pcmBuf)-micFrameSamples]

		enabled := m.enabled
		pub := m.pub
		m.mu.Unlock()

		filtered := m.filter.Process(frame)
		if enabled && pub != nil {
			pub.writeFrame(filtered)
		}
		m.mu.Lock()
	}
	m.mu.Unlock()
}

// OnChange registers a callback fired after the enabled state changes.
func (m *Microphone) OnChange(fn func()) (detach func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Microphone) notify() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// opusPublisher encodes PCM frames to Opus and writes them paced to the local
// WebRTC audio track.
type opusPublisher struct {
	enc    *opus.Encoder
	track  *webrtc.TrackLocalStaticSample
	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newOpusPublisher(track *webrtc.TrackLocalStaticSample) (*opusPublisher, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	p := &opusPublisher{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
	go p.pacer()
	return p, nil
}

func (p *opusPublisher) writeFrame(frame []int16) {
	opusBuf := make([]byte, 4000)
	n, err := p.enc.Encode(frame, opusBuf)
	if err != nil || n == 0 {
		if err != nil {
			log.Printf("mic opus encode error: %v", err)
		}
		return
	}
	pkt := make([]byte, n)
	copy(pkt, opusBuf[:n])
	select {
	case <-p.stopCh:
	case p.frames <- pkt:
	default:
		// Drop when backed up; live audio must not queue unboundedly.
	}
}

func (p *opusPublisher) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-p.frames:
				_ = p.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			default:
			}
		}
	}
}

func (p *opusPublisher) close() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
}
