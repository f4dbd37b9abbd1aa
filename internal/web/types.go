package web

// DisplayState is everything the session view renders. Pushed to the browser
// over the session websocket whenever something changes.
type DisplayState struct {
	Connected      bool   `json:"connected"`
	PresentationID string `json:"presentation_id,omitempty"`
	RoomName       string `json:"room_name,omitempty"`
	SlideNumber    int    `json:"slide_number"`
	SlideURL       string `json:"slide_url"`
	SlideCount     int    `json:"slide_count"`
	AvatarReady    bool   `json:"avatar_ready"`
	AvatarMirrored bool   `json:"avatar_mirrored"`
	AgentConnected bool   `json:"agent_connected"`
	MicEnabled     bool   `json:"mic_enabled"`
	FilterState    string `json:"filter_state"`
}

// UploadState tracks the upload sequence for the upload view. Phase is one of
// "idle", "uploading", "processing", "error".
type UploadState struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}
