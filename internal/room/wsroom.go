package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Options configures a room connection.
type Options struct {
	Identity    string
	RoomName    string
	DialTimeout time.Duration
	NoiseFilter *NoiseFilter
	// VideoSink receives encoded payloads of subscribed remote video tracks.
	// May be nil when the caller only needs track availability.
	VideoSink func(trackID string, payload []byte)
}

// Client is the websocket+WebRTC implementation of Room.
type Client struct {
	conn     *websocket.Conn
	identity string
	sink     func(trackID string, payload []byte)

	writeMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	participants map[string]*remoteParticipant
	order        []string
	tracks       map[string]TrackInfo
	partObs      map[int]func()
	trackObs     map[int]func()
	dataObs      map[int]func([]byte)
	discObs      map[int]func(string)
	nextObs      int

	mic *Microphone
	pc  *webrtc.PeerConnection
	pub *opusPublisher
}

var _ Room = (*Client)(nil)

// Connect dials the room server, joins with the credential token and returns a
// connected client. The credential is consumed exactly once; a failed join
// returns an error and leaves nothing running.
func Connect(ctx context.Context, serverURL, token string, opts Options) (*Client, error) {
	filter := opts.NoiseFilter
	if filter == nil {
		filter = NewNoiseFilter(25, 2.0)
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL(serverURL), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room server: %w", err)
	}

	c := &Client{
		conn:         conn,
		identity:     opts.Identity,
		sink:         opts.VideoSink,
		participants: make(map[string]*remoteParticipant),
		tracks:       make(map[string]TrackInfo),
		partObs:      make(map[int]func()),
		trackObs:     make(map[int]func()),
		dataObs:      make(map[int]func([]byte)),
		discObs:      make(map[int]func(string)),
		mic:          NewMicrophone(filter),
	}

	join := wireMessage{Type: "join", Token: token, Identity: opts.Identity, Room: opts.RoomName}
	if err := c.writeWire(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	deadline := time.Now().Add(opts.DialTimeout)
	if opts.DialTimeout <= 0 {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = conn.SetReadDeadline(deadline)
	var joined wireMessage
	if err := conn.ReadJSON(&joined); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if joined.Type == "error" {
		_ = conn.Close()
		return nil, errors.New("join rejected: " + joined.Error)
	}
	if joined.Type != "joined" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected join ack %q", joined.Type)
	}
	for _, p := range joined.Participants {
		if p.Identity == opts.Identity {
			continue
		}
		c.participants[p.Identity] = newRemoteParticipant(p.Identity, p.Attributes)
		c.order = append(c.order, p.Identity)
	}

	go c.readLoop()
	return c, nil
}

func wsURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/rtc") {
		u = strings.TrimRight(u, "/") + "/rtc"
	}
	return u
}

func (c *Client) RemoteParticipants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Participant, 0, len(c.order))
	for _, identity := range c.order {
		if p, ok := c.participants[identity]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) Tracks() []TrackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackInfo, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *Client) Microphone() *Microphone { return c.mic }

func (c *Client) OnParticipantsChanged(fn func()) (detach func()) {
	return c.register(c.partObs, fn)
}

func (c *Client) OnTracksChanged(fn func()) (detach func()) {
	return c.register(c.trackObs, fn)
}

func (c *Client) OnData(fn func(payload []byte)) (detach func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.dataObs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.dataObs, id)
		c.mu.Unlock()
	}
}

func (c *Client) OnDisconnect(fn func(reason string)) (detach func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.discObs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.discObs, id)
		c.mu.Unlock()
	}
}

func (c *Client) register(set map[int]func(), fn func()) (detach func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	set[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(set, id)
		c.mu.Unlock()
	}
}

func (c *Client) SendData(payload []byte) error {
	return c.writeWire(wireMessage{Type: "data", Payload: payload})
}

// Disconnect tells the server goodbye and tears the connection down.
func (c *Client) Disconnect() error {
	_ = c.writeWire(wireMessage{Type: "bye"})
	c.shutdown("client disconnect")
	return nil
}

func (c *Client) writeWire(msg wireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	for {
		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown("connection closed")
			return
		}
		switch msg.Type {
		case "participant_joined":
			c.handleParticipantJoined(msg)
		case "participant_left":
			c.handleParticipantLeft(msg)
		case "attributes":
			c.handleAttributes(msg)
		case "data":
			c.fanOutData(msg.Payload)
		case "offer":
			if err := c.handleOffer(msg.SDP); err != nil {
				log.Printf("room offer error: %v", err)
			}
		case "candidate":
			c.handleCandidate(msg)
		case "track_published":
			c.handleTrackPublished(msg)
		case "track_unpublished":
			c.handleTrackUnpublished(msg)
		case "bye":
			c.shutdown(msg.Reason)
			return
		case "error":
			log.Printf("room server error: %s", msg.Error)
		}
	}
}

func (c *Client) handleParticipantJoined(msg wireMessage) {
	if msg.Participant == nil || msg.Participant.Identity == c.identity {
		return
	}
	c.mu.Lock()
	if _, exists := c.participants[msg.Participant.Identity]; exists {
		c.mu.Unlock()
		return
	}
	c.participants[msg.Participant.Identity] = newRemoteParticipant(msg.Participant.Identity, msg.Participant.Attributes)
	c.order = append(c.order, msg.Participant.Identity)
	c.mu.Unlock()
	c.fanOut(c.partObs)
}

func (c *Client) handleParticipantLeft(msg wireMessage) {
	if msg.Participant == nil {
		return
	}
	identity := msg.Participant.Identity
	c.mu.Lock()
	p, exists := c.participants[identity]
	if !exists {
		c.mu.Unlock()
		return
	}
	delete(c.participants, identity)
	for i, id := range c.order {
		if id == identity {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	tracksChanged := false
	for id, t := range c.tracks {
		if t.ParticipantIdentity == identity {
			delete(c.tracks, id)
			tracksChanged = true
		}
	}
	c.mu.Unlock()
	p.dropObservers()
	c.fanOut(c.partObs)
	if tracksChanged {
		c.fanOut(c.trackObs)
	}
}

func (c *Client) handleAttributes(msg wireMessage) {
	if msg.Participant == nil {
		return
	}
	c.mu.Lock()
	p, exists := c.participants[msg.Participant.Identity]
	c.mu.Unlock()
	if !exists {
		return
	}
	p.setAttributes(msg.Attributes)
}

func (c *Client) handleTrackPublished(msg wireMessage) {
	if msg.TrackID == "" || msg.Participant == nil {
		return
	}
	c.mu.Lock()
	c.tracks[msg.TrackID] = TrackInfo{
		ID:                  msg.TrackID,
		ParticipantIdentity: msg.Participant.Identity,
		Source:              trackSourceFromWire(msg.Source),
		Kind:                trackKindFromWire(msg.Kind),
	}
	c.mu.Unlock()
	c.fanOut(c.trackObs)
}

func (c *Client) handleTrackUnpublished(msg wireMessage) {
	c.mu.Lock()
	_, exists := c.tracks[msg.TrackID]
	delete(c.tracks, msg.TrackID)
	c.mu.Unlock()
	if exists {
		c.fanOut(c.trackObs)
	}
}

func (c *Client) handleCandidate(msg wireMessage) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil || msg.Candidate == "" {
		return
	}
	init := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMid: msg.SDPMid, SDPMLineIndex: msg.SDPMLineIndex}
	if err := pc.AddICECandidate(init); err != nil {
		log.Printf("room add candidate error: %v", err)
	}
}

// handleOffer builds the peer connection on the server's first offer and
// answers it. The local microphone track is added before answering so its
// transceiver is part of the negotiated session.
func (c *Client) handleOffer(sdp string) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc == nil {
		var err error
		pc, err = c.buildPeer()
		if err != nil {
			return err
		}
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	local := pc.LocalDescription()
	if local == nil {
		return errors.New("no local description")
	}
	return c.writeWire(wireMessage{Type: "answer", SDP: local.SDP})
}

func (c *Client) buildPeer() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return nil, err
	}

	micTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"mic-audio", c.identity,
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(micTrack); err != nil {
		_ = pc.Close()
		return nil, err
	}
	pub, err := newOpusPublisher(micTrack)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.mic.attach(pub, func(muted bool) error {
		return c.writeWire(wireMessage{Type: "mute", Muted: muted})
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			_ = c.writeWire(wireMessage{Type: "ice-complete"})
			return
		}
		init := cand.ToJSON()
		_ = c.writeWire(wireMessage{
			Type:          "candidate",
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("room peer state=%s", state.String())
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeVideo || c.sink == nil {
			return
		}
		trackID := remote.ID()
		go func() {
			for {
				pkt, _, err := remote.ReadRTP()
				if err != nil {
					return
				}
				if len(pkt.Payload) > 0 {
					c.sink(trackID, pkt.Payload)
				}
			}
		}()
	})

	c.mu.Lock()
	c.pc = pc
	c.pub = pub
	c.mu.Unlock()
	return pc, nil
}

func (c *Client) fanOut(set map[int]func()) {
	c.mu.Lock()
	fns := make([]func(), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) fanOutData(payload []byte) {
	c.mu.Lock()
	fns := make([]func([]byte), 0, len(c.dataObs))
	for _, fn := range c.dataObs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (c *Client) shutdown(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pc := c.pc
	pub := c.pub
	fns := make([]func(string), 0, len(c.discObs))
	for _, fn := range c.discObs {
		fns = append(fns, fn)
	}
	parts := make([]*remoteParticipant, 0, len(c.participants))
	for _, p := range c.participants {
		parts = append(parts, p)
	}
	c.participants = make(map[string]*remoteParticipant)
	c.order = nil
	c.tracks = make(map[string]TrackInfo)
	c.mu.Unlock()

	_ = c.conn.Close()
	if pub != nil {
		pub.close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	for _, p := range parts {
		p.dropObservers()
	}
	log.Printf("room disconnected reason=%q", reason)
	for _, fn := range fns {
		fn(reason)
	}
}

// remoteParticipant tracks one remote identity and its attribute observers.
type remoteParticipant struct {
	identity string

	mu        sync.Mutex
	attrs     map[string]string
	observers map[int]func(map[string]string)
	nextObs   int
}

func newRemoteParticipant(identity string, attrs map[string]string) *remoteParticipant {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &remoteParticipant{
		identity:  identity,
		attrs:     copied,
		observers: make(map[int]func(map[string]string)),
	}
}

func (p *remoteParticipant) Identity() string { return p.identity }

func (p *remoteParticipant) Attributes() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		out[k] = v
	}
	return out
}

func (p *remoteParticipant) ObserveAttributes(fn func(attrs map[string]string)) (detach func()) {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}
}

func (p *remoteParticipant) setAttributes(attrs map[string]string) {
	p.mu.Lock()
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	p.attrs = copied
	fns := make([]func(map[string]string), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(attrs)
	}
}

// dropObservers clears all attribute observers so stale references from a
// departed participant can no longer fire.
func (p *remoteParticipant) dropObservers() {
	p.mu.Lock()
	p.observers = make(map[int]func(map[string]string))
	p.mu.Unlock()
}
