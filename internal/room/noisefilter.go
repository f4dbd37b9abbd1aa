package room

import (
	"context"
	"math"
	"sync"
)

// FilterState reports the noise filter lifecycle.
type FilterState string

const (
	FilterPending FilterState = "pending"
	FilterReady   FilterState = "ready"
)

const minNoiseFloorRMS = 300.0

// NoiseFilter is an RMS noise gate. It starts pending and calibrates its noise
// floor from the first frames it sees; until calibration completes the
// microphone must stay disabled so no unfiltered audio is ever transmitted.
// After calibration, frames whose energy sits below floor*margin are replaced
// with silence and everything else passes through unchanged.
type NoiseFilter struct {
	mu        sync.Mutex
	remaining int
	margin    float64
	floorSum  float64
	floorN    int
	threshold float64

	readyCh   chan struct{}
	readyOnce sync.Once
}

func NewNoiseFilter(calibrationFrames int, margin float64) *NoiseFilter {
	if calibrationFrames < 1 {
		calibrationFrames = 1
	}
	if margin <= 0 {
		margin = 2.0
	}
	return &NoiseFilter{
		remaining: calibrationFrames,
		margin:    margin,
		readyCh:   make(chan struct{}),
	}
}

func (f *NoiseFilter) State() FilterState {
	select {
	case <-f.readyCh:
		return FilterReady
	default:
		return FilterPending
	}
}

// WaitReady blocks until calibration completes or ctx is done.
func (f *NoiseFilter) WaitReady(ctx context.Context) error {
	select {
	case <-f.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process consumes one PCM frame. While calibrating it accumulates the noise
// floor and returns silence; once ready it gates the frame against the
// calibrated threshold.
func (f *NoiseFilter) Process(frame []int16) []int16 {
	rms := frameRMS(frame)

	f.mu.Lock()
	if f.remaining > 0 {
		f.floorSum += rms
		f.floorN++
		f.remaining--
		if f.remaining == 0 {
			floor := f.floorSum / float64(f.floorN)
			if floor < minNoiseFloorRMS {
				floor = minNoiseFloorRMS
			}
			f.threshold = floor * f.margin
			f.readyOnce.Do(func() { close(f.readyCh) })
		}
		f.mu.Unlock()
		return make([]int16, len(frame))
	}
	threshold := f.threshold
	f.mu.Unlock()

	if rms < threshold {
		return make([]int16, len(frame))
	}
	out := make([]int16, len(frame))
	copy(out, frame)
	return out
}

func frameRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
