package room

// wireMessage is the signaling message format spoken with the room server.
// Types: "join", "joined", "participant_joined", "participant_left",
// "attributes", "data", "offer", "answer", "candidate", "ice-complete",
// "track_published", "track_unpublished", "mute", "bye", "error".
type wireMessage struct {
	Type string `json:"type"`
	// join
	Token    string `json:"token,omitempty"`
	Identity string `json:"identity,omitempty"`
	Room     string `json:"room,omitempty"`
	// joined / participant events
	Participant  *participantPayload  `json:"participant,omitempty"`
	Participants []participantPayload `json:"participants,omitempty"`
	// attributes
	Attributes map[string]string `json:"attributes,omitempty"`
	// data (base64-encoded by encoding/json)
	Payload []byte `json:"payload,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// track events
	TrackID string `json:"track_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Kind    string `json:"kind,omitempty"`
	// mute
	Muted bool `json:"muted,omitempty"`
	// bye / error
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func trackSourceFromWire(s string) TrackSource {
	switch s {
	case "camera":
		return TrackSourceCamera
	case "microphone":
		return TrackSourceMicrophone
	default:
		return TrackSourceUnknown
	}
}

func trackKindFromWire(s string) TrackKind {
	if s == "video" {
		return TrackKindVideo
	}
	return TrackKindAudio
}

type participantPayload struct {
	Identity   string            `json:"identity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
