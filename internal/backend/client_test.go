package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(ts *httptest.Server) *Client {
	return NewClient(ts.URL, 5*time.Second, 5*time.Second)
}

func TestUploadDeckReturnsPresentationID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-ppt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "deck.pptx" {
			t.Errorf("unexpected filename %s", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","presentation_id":"pres-42"}`))
	}))
	t.Cleanup(ts.Close)

	var progress []int
	id, err := newTestClient(ts).UploadDeck(context.Background(), "deck.pptx",
		strings.NewReader(strings.Repeat("x", 4096)), func(pct int) {
			progress = append(progress, pct)
		})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != "pres-42" {
		t.Fatalf("unexpected presentation id %q", id)
	}
	if len(progress) == 0 {
		t.Fatal("expected progress callbacks")
	}
	last := -1
	for _, pct := range progress {
		if pct < 0 || pct > 100 {
			t.Fatalf("progress out of range: %d", pct)
		}
		if pct <= last {
			t.Fatalf("progress not strictly increasing: %v", progress)
		}
		last = pct
	}
	if last != 100 {
		t.Fatalf("expected final progress 100, got %d", last)
	}
}

func TestUploadDeckSurfacesBackendMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"error","message":"unsupported file type"}`))
	}))
	t.Cleanup(ts.Close)

	_, err := newTestClient(ts).UploadDeck(context.Background(), "deck.txt", strings.NewReader("nope"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Fatalf("expected backend message, got %v", err)
	}
}

func TestUploadDeckRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	_, err := newTestClient(ts).UploadDeck(context.Background(), "deck.pptx", strings.NewReader("data"), nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestFetchSlidesValidatesDescriptors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("presentation_id"); got != "pres-42" {
			t.Errorf("unexpected presentation_id %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"slide_number":2,"image_url":"/slides/2.png"},{"slide_number":1,"image_url":"/slides/1.png"}]`))
	}))
	t.Cleanup(ts.Close)

	slides, err := newTestClient(ts).FetchSlides(context.Background(), "pres-42")
	if err != nil {
		t.Fatalf("fetch slides: %v", err)
	}
	if len(slides) != 2 {
		t.Fatalf("expected 2 slides, got %d", len(slides))
	}
	if slides[0].SlideNumber != 2 {
		t.Fatalf("slide order must be preserved as received, got %+v", slides)
	}
}

func TestFetchSlidesRejectsMalformedDescriptor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"slide_number":0,"image_url":""}]`))
	}))
	t.Cleanup(ts.Close)

	if _, err := newTestClient(ts).FetchSlides(context.Background(), "pres-42"); err == nil {
		t.Fatal("expected error for malformed descriptor")
	}
}

func TestFetchTokenRequiresCompleteCredential(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("identity"); got != "viewer-1" {
			t.Errorf("unexpected identity %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok","url":"wss://rtc.example.com","room":"pres-42"}`))
	}))
	t.Cleanup(ts.Close)

	cred, err := newTestClient(ts).FetchToken(context.Background(), "pres-42", "viewer-1")
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if cred.Token != "tok" || cred.Room != "pres-42" {
		t.Fatalf("unexpected credential %+v", cred)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	}))
	t.Cleanup(empty.Close)
	if _, err := newTestClient(empty).FetchToken(context.Background(), "pres-42", "viewer-1"); err == nil {
		t.Fatal("expected error for incomplete credential")
	}
}
