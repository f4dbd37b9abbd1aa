package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"present-this/internal/backend"
	"present-this/internal/config"
	"present-this/internal/room"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

// fakeBackend stands in for the slide-converter service.
type fakeBackend struct {
	slides      []backend.SlideDescriptor
	uploadFails string
	slidesFail  bool
	tokenFail   bool
}

func defaultSlides() []backend.SlideDescriptor {
	return []backend.SlideDescriptor{
		{SlideNumber: 1, ImageURL: "https://cdn.example.com/a.png"},
		{SlideNumber: 2, ImageURL: "https://cdn.example.com/b.png"},
		{SlideNumber: 3, ImageURL: "https://cdn.example.com/c.png"},
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload-ppt", func(w http.ResponseWriter, r *http.Request) {
		if f.uploadFails != "" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":  "error",
				"message": f.uploadFails,
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":          "success",
			"presentation_id": "pres-123",
		})
	})
	mux.HandleFunc("GET /get-presentation", func(w http.ResponseWriter, r *http.Request) {
		if f.slidesFail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.slides)
	})
	mux.HandleFunc("GET /livekit/token", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenFail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token": "tok-abc",
			"url":   "wss://rooms.example.com",
			"room":  "presentation-room",
		})
	})
	return mux
}

// fakeRoom is an in-memory room.Room for exercising the server without a
// transport service.
type fakeRoom struct {
	mu           sync.Mutex
	mic          *room.Microphone
	participants []room.Participant
	tracks       []room.TrackInfo
	sent         [][]byte
	disconnected bool
	sendErr      error

	partObs  map[int]func()
	trackObs map[int]func()
	dataObs  map[int]func([]byte)
	discObs  map[int]func(string)
	nextObs  int
}

func newFakeRoom(filter *room.NoiseFilter) *fakeRoom {
	if filter == nil {
		filter = room.NewNoiseFilter(1, 2.0)
	}
	return &fakeRoom{
		mic:      room.NewMicrophone(filter),
		partObs:  map[int]func(){},
		trackObs: map[int]func(){},
		dataObs:  map[int]func([]byte){},
		discObs:  map[int]func(string){},
	}
}

func (f *fakeRoom) RemoteParticipants() []room.Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]room.Participant(nil), f.participants...)
}

func (f *fakeRoom) Tracks() []room.TrackInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]room.TrackInfo(nil), f.tracks...)
}

func (f *fakeRoom) Microphone() *room.Microphone { return f.mic }

func (f *fakeRoom) SendData(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.disconnected {
		return errors.New("room closed")
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeRoom) Disconnect() error {
	f.mu.Lock()
	if f.disconnected {
		f.mu.Unlock()
		return nil
	}
	f.disconnected = true
	obs := make([]func(string), 0, len(f.discObs))
	for _, fn := range f.discObs {
		obs = append(obs, fn)
	}
	f.mu.Unlock()
	for _, fn := range obs {
		fn("local disconnect")
	}
	return nil
}

func (f *fakeRoom) OnParticipantsChanged(fn func()) (detach func()) {
	return f.register(f.partObs, fn)
}

func (f *fakeRoom) OnTracksChanged(fn func()) (detach func()) {
	return f.register(f.trackObs, fn)
}

func (f *fakeRoom) OnData(fn func(payload []byte)) (detach func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextObs
	f.nextObs++
	f.dataObs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.dataObs, id)
	}
}

func (f *fakeRoom) OnDisconnect(fn func(reason string)) (detach func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextObs
	f.nextObs++
	f.discObs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.discObs, id)
	}
}

func (f *fakeRoom) register(set map[int]func(), fn func()) (detach func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextObs
	f.nextObs++
	set[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(set, id)
	}
}

func (f *fakeRoom) addTrack(track room.TrackInfo) {
	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	obs := snapshotFuncs(f.trackObs)
	f.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (f *fakeRoom) addParticipant(p room.Participant) {
	f.mu.Lock()
	f.participants = append(f.participants, p)
	obs := snapshotFuncs(f.partObs)
	f.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (f *fakeRoom) pushData(payload []byte) {
	f.mu.Lock()
	obs := make([]func([]byte), 0, len(f.dataObs))
	for _, fn := range f.dataObs {
		obs = append(obs, fn)
	}
	f.mu.Unlock()
	for _, fn := range obs {
		fn(payload)
	}
}

func snapshotFuncs(set map[int]func()) []func() {
	obs := make([]func(), 0, len(set))
	for _, fn := range set {
		obs = append(obs, fn)
	}
	return obs
}

// fakeAgent is a minimal remote participant.
type fakeAgent struct {
	identity string
	attrs    map[string]string
}

func (a *fakeAgent) Identity() string { return a.identity }

func (a *fakeAgent) Attributes() map[string]string {
	attrs := make(map[string]string, len(a.attrs))
	for k, v := range a.attrs {
		attrs[k] = v
	}
	return attrs
}

func (a *fakeAgent) ObserveAttributes(fn func(attrs map[string]string)) (detach func()) {
	return func() {}
}

var _ room.Room = (*fakeRoom)(nil)
var _ room.Participant = (*fakeAgent)(nil)

// newServerForTest wires a server to the fake backend and a fake room
// connector. The last room handed out is recorded for assertions.
type testRig struct {
	srv     *Server
	ts      *httptest.Server
	backend *fakeBackend
	mu      sync.Mutex
	rooms   []*fakeRoom
}

func newTestRig(t *testing.T, fb *fakeBackend) *testRig {
	t.Helper()
	if fb == nil {
		fb = &fakeBackend{slides: defaultSlides()}
	}
	backendTS := newTestServer(t, fb.handler())
	t.Cleanup(backendTS.Close)

	cfg := config.Default()
	cfg.BackendBaseURL = backendTS.URL
	cfg.NoiseCalibrationFrames = 1

	rig := &testRig{backend: fb}
	rig.srv = New(cfg)
	rig.srv.connect = func(ctx context.Context, cred backend.Credential, opts room.Options) (room.Room, error) {
		fr := newFakeRoom(opts.NoiseFilter)
		rig.mu.Lock()
		rig.rooms = append(rig.rooms, fr)
		rig.mu.Unlock()
		return fr, nil
	}
	rig.ts = newTestServer(t, rig.srv.Handler())
	t.Cleanup(rig.ts.Close)
	return rig
}

func (r *testRig) lastRoom(t *testing.T) *fakeRoom {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rooms) == 0 {
		t.Fatal("no room was connected")
	}
	return r.rooms[len(r.rooms)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
