package session

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"present-this/internal/backend"
	"present-this/internal/room"
)

// DisplayState is the locally rendered slide. SlideNumber 0 means no slide has
// been applied yet. Both fields always describe the same descriptor.
type DisplayState struct {
	SlideNumber int
	SlideURL    string
}

// roomView is the slice of the room the reconciler consumes.
type roomView interface {
	RemoteParticipants() []room.Participant
	OnParticipantsChanged(fn func()) (detach func())
	OnData(fn func(payload []byte)) (detach func())
}

// slideChangeMessage is the data-channel alternative to the attribute path.
type slideChangeMessage struct {
	Type        string `json:"type"`
	SlideNumber int    `json:"slide_number"`
}

// Reconciler keeps the displayed slide consistent with the slide number the
// presenter agent publishes, either as a participant attribute or as a
// slide_change data message. It is the single writer of DisplayState.
//
// When several remote participants publish the attribute, the last one
// processed wins; behavior with more than one presenter is unspecified and
// this is not a designed precedence.
type Reconciler struct {
	rv           roomView
	slides       []backend.SlideDescriptor
	attributeKey string
	onApply      func(DisplayState)

	// mu serializes whole reconciliation passes, including the onApply
	// callback, so passes never interleave. onApply must not call back in.
	mu         sync.Mutex
	state      DisplayState
	applied    bool
	stopped    bool
	partDetach map[string]func()
	roomDetach func()
	dataDetach func()
}

// NewReconciler builds a reconciler over the immutable slide list. onApply is
// invoked once per actual display change, never for redundant updates.
func NewReconciler(rv roomView, slides []backend.SlideDescriptor, attributeKey string, onApply func(DisplayState)) *Reconciler {
	if onApply == nil {
		onApply = func(DisplayState) {}
	}
	return &Reconciler{
		rv:           rv,
		slides:       slides,
		attributeKey: attributeKey,
		onApply:      onApply,
		partDetach:   make(map[string]func()),
	}
}

// Start attaches listeners to every current remote participant and to the
// participant list, then schedules the initial slide selection on the next
// tick. The initial apply is deliberately decoupled from this synchronous
// path.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.roomDetach = r.rv.OnParticipantsChanged(func() {
		r.mu.Lock()
		r.syncListenersLocked()
		r.reconcileLocked()
		r.mu.Unlock()
	})
	r.dataDetach = r.rv.OnData(r.handleData)
	r.syncListenersLocked()
	r.mu.Unlock()

	time.AfterFunc(0, r.applyInitial)
}

// Stop detaches every listener. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	detaches := make([]func(), 0, len(r.partDetach)+2)
	for _, detach := range r.partDetach {
		detaches = append(detaches, detach)
	}
	r.partDetach = make(map[string]func())
	if r.roomDetach != nil {
		detaches = append(detaches, r.roomDetach)
		r.roomDetach = nil
	}
	if r.dataDetach != nil {
		detaches = append(detaches, r.dataDetach)
		r.dataDetach = nil
	}
	r.mu.Unlock()
	for _, detach := range detaches {
		detach()
	}
}

func (r *Reconciler) State() DisplayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// syncListenersLocked attaches an attribute observer to every present remote
// participant exactly once and releases observers of departed ones.
func (r *Reconciler) syncListenersLocked() {
	if r.stopped {
		return
	}
	present := make(map[string]bool)
	for _, p := range r.rv.RemoteParticipants() {
		identity := p.Identity()
		present[identity] = true
		if _, attached := r.partDetach[identity]; attached {
			continue
		}
		r.partDetach[identity] = p.ObserveAttributes(func(map[string]string) {
			r.mu.Lock()
			r.reconcileLocked()
			r.mu.Unlock()
		})
	}
	for identity, detach := range r.partDetach {
		if !present[identity] {
			delete(r.partDetach, identity)
			detach()
		}
	}
}

// applyInitial selects the starting slide once the list is known: slide
// number 1 when present, otherwise the first descriptor as received. The
// fallback masks a backend numbering quirk rather than being correct by
// design, so taking it is logged.
func (r *Reconciler) applyInitial() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.applied || len(r.slides) == 0 {
		return
	}
	chosen := r.slides[0]
	found := false
	for _, slide := range r.slides {
		if slide.SlideNumber == 1 {
			chosen = slide
			found = true
			break
		}
	}
	if !found {
		log.Printf("no slide numbered 1; falling back to first received slide_number=%d", chosen.SlideNumber)
	}
	r.applyDescriptorLocked(chosen)
}

// reconcileLocked runs one pass over the remote participants: parse each
// published slide attribute and apply it. Absent or unparsable attributes skip
// that participant; the last processed value wins.
func (r *Reconciler) reconcileLocked() {
	if r.stopped {
		return
	}
	for _, p := range r.rv.RemoteParticipants() {
		raw, ok := p.Attributes()[r.attributeKey]
		if !ok {
			continue
		}
		number, err := strconv.Atoi(raw)
		if err != nil {
			log.Printf("unparsable slide attribute participant=%s value=%q", p.Identity(), raw)
			continue
		}
		r.applyNumberLocked(number)
	}
}

// handleData applies slide_change data messages through the same lookup rule
// as the attribute path.
func (r *Reconciler) handleData(payload []byte) {
	var msg slideChangeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("unparsable data message: %v", err)
		return
	}
	if msg.Type != "slide_change" {
		return
	}
	r.mu.Lock()
	if !r.stopped {
		r.applyNumberLocked(msg.SlideNumber)
	}
	r.mu.Unlock()
}

// applyNumberLocked applies a published slide number. Re-applying the current
// number is a no-op; a number with no matching descriptor is logged and the
// prior display is preserved.
func (r *Reconciler) applyNumberLocked(number int) {
	if r.applied && number == r.state.SlideNumber {
		return
	}
	for _, slide := range r.slides {
		if slide.SlideNumber == number {
			r.applyDescriptorLocked(slide)
			return
		}
	}
	log.Printf("published slide %d not in slide list; keeping slide %d", number, r.state.SlideNumber)
}

func (r *Reconciler) applyDescriptorLocked(slide backend.SlideDescriptor) {
	next := DisplayState{SlideNumber: slide.SlideNumber, SlideURL: slide.ImageURL}
	if r.applied && next == r.state {
		return
	}
	r.state = next
	r.applied = true
	log.Printf("slide applied slide=%d url=%s", next.SlideNumber, next.SlideURL)
	r.onApply(next)
}
