package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlideDescriptor is one rendered slide as reported by the converter backend.
// Lookups are by SlideNumber; the order slides arrive in is not guaranteed.
type SlideDescriptor struct {
	SlideNumber int    `json:"slide_number"`
	ImageURL    string `json:"image_url"`
}

// Credential is a room-join credential, consumed exactly once.
type Credential struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

type uploadResponse struct {
	Status         string `json:"status"`
	PresentationID string `json:"presentation_id"`
	Message        string `json:"message,omitempty"`
}

// Client talks to the external slide-converter backend.
type Client struct {
	baseURL       string
	uploadTimeout time.Duration
	fetchTimeout  time.Duration
	httpClient    *http.Client
}

func NewClient(baseURL string, uploadTimeout, fetchTimeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		uploadTimeout: uploadTimeout,
		fetchTimeout:  fetchTimeout,
		httpClient:    &http.Client{},
	}
}

// progressReader reports whole-percent transfer progress as the HTTP transport
// drains the request body.
type progressReader struct {
	inner      io.Reader
	total      int64
	sent       int64
	lastPct    int
	onProgress func(pct int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.inner.Read(buf)
	if n > 0 && p.total > 0 && p.onProgress != nil {
		p.sent += int64(n)
		pct := int(p.sent * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}

// UploadDeck posts the slide deck as a multipart form and returns the opaque
// presentation id. onProgress receives 0-100 percentages derived from bytes
// transferred; it may be nil.
func (c *Client) UploadDeck(ctx context.Context, filename string, file io.Reader, onProgress func(pct int)) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read upload file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	reader := &progressReader{inner: &body, total: int64(body.Len()), lastPct: -1, onProgress: onProgress}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/upload-ppt", reader)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.ContentLength = reader.total

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload deck: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload rejected (%d)", resp.StatusCode)
	}
	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.PresentationID == "" {
		if parsed.Message != "" {
			return "", errors.New(parsed.Message)
		}
		return "", errors.New("upload response missing presentation id")
	}
	return parsed.PresentationID, nil
}

// FetchSlides returns the rendered slide list for a presentation.
func (c *Client) FetchSlides(ctx context.Context, presentationID string) ([]SlideDescriptor, error) {
	endpoint := c.baseURL + "/get-presentation?presentation_id=" + url.QueryEscape(presentationID)
	var slides []SlideDescriptor
	if err := c.getJSON(ctx, endpoint, &slides); err != nil {
		return nil, fmt.Errorf("fetch slides: %w", err)
	}
	if len(slides) == 0 {
		return nil, errors.New("fetch slides: presentation has no slides")
	}
	for _, slide := range slides {
		if slide.SlideNumber < 1 || slide.ImageURL == "" {
			return nil, fmt.Errorf("fetch slides: malformed descriptor for slide %d", slide.SlideNumber)
		}
	}
	return slides, nil
}

// FetchToken returns a join credential for the presentation room.
func (c *Client) FetchToken(ctx context.Context, presentationID, identity string) (Credential, error) {
	endpoint := c.baseURL + "/livekit/token?presentation_id=" + url.QueryEscape(presentationID) +
		"&identity=" + url.QueryEscape(identity)
	var cred Credential
	if err := c.getJSON(ctx, endpoint, &cred); err != nil {
		return Credential{}, fmt.Errorf("fetch token: %w", err)
	}
	if cred.Token == "" || cred.URL == "" || cred.Room == "" {
		return Credential{}, errors.New("fetch token: incomplete credential")
	}
	return cred, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dest any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(dest)
}
