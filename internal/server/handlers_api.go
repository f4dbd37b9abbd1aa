package server

import (
	"context"
	"encoding/json"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"present-this/internal/room"
	"present-this/internal/session"
	"present-this/internal/web"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type microphoneRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type navigateRequest struct {
	Direction string `json:"direction" binding:"required,oneof=next previous"`
}

func (s *Server) apiRouter() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/api/presentations", s.handleStartPresentation)
	router.POST("/api/session/microphone", s.handleMicrophone)
	router.POST("/api/session/navigate", s.handleNavigate)
	router.POST("/api/session/disconnect", s.handleDisconnect)
	return router
}

// handleStartPresentation runs the whole start sequence in one request:
// upload the deck, fetch the slide list and a room credential, join the room
// and install the session. Any failure tears down whatever was built so the
// client is back on the upload view with the selected file intact.
func (s *Server) handleStartPresentation(c *gin.Context) {
	if _, ok := s.store.Active(); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "a presentation is already running"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "select a slide deck first"})
		return
	}
	defer file.Close()

	filename, err := validateDeckFilename(header.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload size limit"})
		return
	}

	seq, ok := s.beginUpload()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "an upload is already in progress"})
		return
	}

	ctx := c.Request.Context()
	presentationID, err := s.startSession(ctx, seq, filename, file)
	if err != nil {
		s.failUpload(seq, err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.finishUpload(seq)
	s.broadcastView(true)
	s.broadcastDisplay()
	c.JSON(http.StatusCreated, gin.H{"presentation_id": presentationID})
}

// startSession is the sequence body; it returns the presentation id on
// success and leaves no session behind on error.
func (s *Server) startSession(ctx context.Context, seq int, filename string, file multipart.File) (string, error) {
	presentationID, err := s.backend.UploadDeck(ctx, filename, file, func(pct int) {
		s.setUpload(seq, web.UploadState{Phase: "uploading", Percent: pct})
	})
	if err != nil {
		return "", err
	}
	log.Printf("deck uploaded presentation_id=%s file=%s", presentationID, filename)
	s.setUpload(seq, web.UploadState{Phase: "processing", Percent: 100})

	slides, err := s.backend.FetchSlides(ctx, presentationID)
	if err != nil {
		return "", err
	}

	identity := s.cfg.IdentityPrefix + "-" + uuid.NewString()
	cred, err := s.backend.FetchToken(ctx, presentationID, identity)
	if err != nil {
		return "", err
	}

	filter := room.NewNoiseFilter(s.cfg.NoiseCalibrationFrames, s.cfg.NoiseGateMargin)
	opts := room.Options{
		Identity:    identity,
		RoomName:    cred.Room,
		DialTimeout: time.Duration(s.cfg.RoomDialTimeoutSeconds) * time.Second,
		NoiseFilter: filter,
	}
	// The room outlives this request; only the dial is bounded.
	dialCtx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	r, err := s.connect(dialCtx, cred, opts)
	if err != nil {
		return "", err
	}

	active := &session.Active{
		Data: session.Data{
			PresentationID: presentationID,
			Credential:     cred,
			Slides:         slides,
		},
		Room: r,
	}
	active.Reconciler = session.NewReconciler(r, slides, s.cfg.SlideAttributeKey, func(slide session.DisplayState) {
		s.ws.Broadcast(map[string]any{"type": "display", "display": s.displayStateFor(active, slide)})
	})

	if err := s.store.Start(active); err != nil {
		_ = r.Disconnect()
		return "", err
	}

	r.OnTracksChanged(func() { s.broadcastDisplay() })
	r.OnParticipantsChanged(func() { s.broadcastDisplay() })
	r.Microphone().OnChange(func() { s.broadcastDisplay() })
	r.OnDisconnect(func(reason string) { s.teardownSession(reason) })
	active.Reconciler.Start()

	log.Printf("session started presentation_id=%s room=%s identity=%s slides=%d",
		presentationID, cred.Room, identity, len(slides))
	return presentationID, nil
}

func (s *Server) handleMicrophone(c *gin.Context) {
	var req microphoneRequest
	if !bindJSON(c, &req, bindMessages{
		"Enabled": {"required": "enabled is required"},
	}, "invalid microphone request") {
		return
	}

	active, ok := s.store.Active()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
		return
	}
	mic := active.Room.Microphone()
	if *req.Enabled && mic.FilterState() != room.FilterReady {
		c.JSON(http.StatusConflict, gin.H{
			"error":        "noise filter is still calibrating",
			"filter_state": string(mic.FilterState()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := mic.SetEnabled(ctx, *req.Enabled); err != nil {
		log.Printf("microphone toggle failed enabled=%t error=%v", *req.Enabled, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        "microphone update failed",
			"enabled":      mic.Enabled(),
			"filter_state": string(mic.FilterState()),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":      mic.Enabled(),
		"filter_state": string(mic.FilterState()),
	})
}

func (s *Server) handleNavigate(c *gin.Context) {
	var req navigateRequest
	if !bindJSON(c, &req, bindMessages{
		"Direction": {
			"required": "direction is required",
			"oneof":    "direction must be next or previous",
		},
	}, "invalid navigate request") {
		return
	}

	active, ok := s.store.Active()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
		return
	}
	payload, err := json.Marshal(map[string]string{
		"type":      "navigate",
		"direction": req.Direction,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode navigate message"})
		return
	}
	if err := active.Room.SendData(payload); err != nil {
		log.Printf("navigate send failed direction=%s error=%v", req.Direction, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reach the presenter"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"direction": req.Direction})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.teardownSession("local disconnect")
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

// teardownSession is the single exit path for a session. Both an explicit
// disconnect and a dropped room connection land here; the second caller finds
// the store empty and does nothing.
func (s *Server) teardownSession(reason string) {
	active := s.store.Clear()
	if active == nil {
		return
	}
	log.Printf("session ended reason=%s presentation_id=%s", reason, active.Data.PresentationID)
	if active.Reconciler != nil {
		active.Reconciler.Stop()
	}
	if active.Room != nil {
		_ = active.Room.Disconnect()
	}
	s.broadcastView(false)
}

func (s *Server) beginUpload() (int, bool) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if s.upload.Phase == "uploading" || s.upload.Phase == "processing" {
		return 0, false
	}
	s.uploadSeq++
	s.upload = web.UploadState{Phase: "uploading"}
	return s.uploadSeq, true
}

// setUpload publishes upload progress for the given sequence. Callbacks from
// an abandoned sequence are discarded.
func (s *Server) setUpload(seq int, state web.UploadState) {
	s.uploadMu.Lock()
	if seq != s.uploadSeq {
		s.uploadMu.Unlock()
		return
	}
	s.upload = state
	s.uploadMu.Unlock()
	s.broadcastUpload(state)
}

func (s *Server) failUpload(seq int, message string) {
	log.Printf("upload sequence failed error=%s", message)
	s.setUpload(seq, web.UploadState{Phase: "error", Message: message})
}

func (s *Server) finishUpload(seq int) {
	s.setUpload(seq, web.UploadState{Phase: "idle"})
}

func (s *Server) uploadSnapshot() web.UploadState {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	return s.upload
}
