package room

// TrackSource classifies a published media track by what produced it.
type TrackSource string

const (
	TrackSourceCamera     TrackSource = "camera"
	TrackSourceMicrophone TrackSource = "microphone"
	TrackSourceUnknown    TrackSource = "unknown"
)

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackInfo is a read-only view of a subscribed remote track.
type TrackInfo struct {
	ID                  string
	ParticipantIdentity string
	Source              TrackSource
	Kind                TrackKind
}

// Participant is the consumer-facing view of a remote room participant.
// Attributes returns a copy of the participant's string attribute map.
// ObserveAttributes registers a callback fired whenever the attribute map
// changes; the returned detach func unregisters it and is safe to call more
// than once.
type Participant interface {
	Identity() string
	Attributes() map[string]string
	ObserveAttributes(fn func(attrs map[string]string)) (detach func())
}

// Room is the client-side handle on a connected real-time room. Everything
// behind it (signaling, media transport, presence propagation) is owned by the
// transport service; consumers only read participant state, observe changes
// and drive the local microphone.
type Room interface {
	RemoteParticipants() []Participant
	OnParticipantsChanged(fn func()) (detach func())

	Tracks() []TrackInfo
	OnTracksChanged(fn func()) (detach func())

	OnData(fn func(payload []byte)) (detach func())
	SendData(payload []byte) error

	Microphone() *Microphone

	OnDisconnect(fn func(reason string)) (detach func())
	Disconnect() error
}

// RemoteCameraTrack selects a video track with the camera source belonging to
// a remote participant. The local participant never appears in Tracks, so any
// camera-source video track qualifies. Returns false while none is available.
func RemoteCameraTrack(r Room) (TrackInfo, bool) {
	for _, track := range r.Tracks() {
		if track.Source == TrackSourceCamera && track.Kind == TrackKindVideo {
			return track, true
		}
	}
	return TrackInfo{}, false
}
