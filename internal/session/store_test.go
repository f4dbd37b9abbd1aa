package session

import (
	"testing"

	"present-this/internal/backend"
)

func TestStoreHoldsAtMostOneSession(t *testing.T) {
	store := NewStore()
	if _, ok := store.Active(); ok {
		t.Fatal("new store must be empty")
	}

	first := &Active{Data: Data{PresentationID: "pres-1"}}
	if err := store.Start(first); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.Start(&Active{Data: Data{PresentationID: "pres-2"}}); err == nil {
		t.Fatal("second concurrent session must be rejected")
	}

	active, ok := store.Active()
	if !ok || active.Data.PresentationID != "pres-1" {
		t.Fatalf("unexpected active session %+v", active)
	}
}

func TestStoreClearDiscardsEntirely(t *testing.T) {
	store := NewStore()
	data := Data{
		PresentationID: "pres-1",
		Credential:     backend.Credential{Token: "tok", URL: "wss://x", Room: "r"},
		Slides:         []backend.SlideDescriptor{{SlideNumber: 1, ImageURL: "a.png"}},
	}
	if err := store.Start(&Active{Data: data}); err != nil {
		t.Fatalf("start: %v", err)
	}

	cleared := store.Clear()
	if cleared == nil || cleared.Data.PresentationID != "pres-1" {
		t.Fatalf("clear returned %+v", cleared)
	}
	if _, ok := store.Active(); ok {
		t.Fatal("store must be empty after clear")
	}
	if err := store.Start(&Active{Data: data}); err != nil {
		t.Fatalf("restart after clear: %v", err)
	}
}
