package server

import (
	"present-this/internal/room"
	"present-this/internal/session"
	"present-this/internal/web"
)

// displayState snapshots everything the session view renders. With no active
// session it returns the zero state, which the view reads as disconnected.
func (s *Server) displayState() web.DisplayState {
	active, ok := s.store.Active()
	if !ok {
		return web.DisplayState{}
	}
	return s.displayStateFor(active, active.Reconciler.State())
}

// displayStateFor builds the view state from an already-taken slide snapshot.
// The reconciler's apply callback runs inside its reconciliation pass and must
// not call back into Reconciler.State, so the slide fields arrive as an
// argument.
func (s *Server) displayStateFor(active *session.Active, slide session.DisplayState) web.DisplayState {
	mic := active.Room.Microphone()
	_, avatarReady := room.RemoteCameraTrack(active.Room)
	return web.DisplayState{
		Connected:      true,
		PresentationID: active.Data.PresentationID,
		RoomName:       active.Data.Credential.Room,
		SlideNumber:    slide.SlideNumber,
		SlideURL:       slide.SlideURL,
		SlideCount:     len(active.Data.Slides),
		AvatarReady:    avatarReady,
		AvatarMirrored: true,
		AgentConnected: len(active.Room.RemoteParticipants()) > 0,
		MicEnabled:     mic.Enabled(),
		FilterState:    string(mic.FilterState()),
	}
}
