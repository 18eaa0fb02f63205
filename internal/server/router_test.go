package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
)

type playlistBody struct {
	Items        []playlist.Item `json:"items"`
	Status       string          `json:"status"`
	ActiveItemID string          `json:"activeItemId"`
}

func perform(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodePlaylist(t *testing.T, recorder *httptest.ResponseRecorder) playlistBody {
	t.Helper()
	var body playlistBody
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode playlist response %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Notifier: NewChangeNotifier()}); err == nil {
		t.Fatalf("expected missing playlist service error")
	}
	notifier := NewChangeNotifier()
	if _, err := NewHTTPHandler(Dependencies{Playlist: newTestEngine(t, notifier)}); err == nil {
		t.Fatalf("expected missing notifier error")
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	recorder := perform(t, handler, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
}

func TestAddItemEndpoint(t *testing.T) {
	handler, engine, _ := newTestHandler(t)

	recorder := perform(t, handler, http.MethodPost, "/playlist/items", `{"url":"https://youtu.be/dQw4w9WgXcQ","title":"Never"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created playlist.Item
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if created.ID != "item-1" || created.ExternalVideoID != "dQw4w9WgXcQ" || created.Title != "Never" {
		t.Fatalf("unexpected item %+v", created)
	}
	if len(engine.Playlist()) != 1 {
		t.Fatalf("expected engine to hold the new item")
	}
}

func TestAddItemEndpointRejectsBadInput(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	cases := []struct {
		body string
		code string
	}{
		{body: `{"title":"missing url"}`, code: "invalid_request"},
		{body: `not json`, code: "invalid_request"},
		{body: `{"url":"https://example.com/clip"}`, code: "invalid_url"},
	}
	for _, testCase := range cases {
		recorder := perform(t, handler, http.MethodPost, "/playlist/items", testCase.body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for %s, got %d", testCase.body, recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), testCase.code) {
			t.Fatalf("expected error %s for %s, got %s", testCase.code, testCase.body, recorder.Body.String())
		}
	}
}

func TestListPlaylistFiltersByQuery(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	for _, title := range []string{"Cats compilation", "Dogs", "More cats"} {
		if _, err := engine.AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", title); err != nil {
			t.Fatalf("failed to add item: %v", err)
		}
	}

	body := decodePlaylist(t, perform(t, handler, http.MethodGet, "/playlist?q=CATS", ""))
	if len(body.Items) != 2 {
		t.Fatalf("expected two matches, got %+v", body.Items)
	}
	body = decodePlaylist(t, perform(t, handler, http.MethodGet, "/playlist", ""))
	if len(body.Items) != 3 || body.Status != "disconnected" {
		t.Fatalf("unexpected full listing %+v", body)
	}
}

func TestReorderAndMoveEndpoints(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	for index := 0; index < 3; index++ {
		if _, err := engine.AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ""); err != nil {
			t.Fatalf("failed to add item: %v", err)
		}
	}

	recorder := perform(t, handler, http.MethodPut, "/playlist/order", `{"ids":["item-3","item-1","item-2"]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodePlaylist(t, recorder)
	if body.Items[0].ID != "item-3" {
		t.Fatalf("expected item-3 first, got %+v", body.Items)
	}

	recorder = perform(t, handler, http.MethodPut, "/playlist/order", `{"ids":["item-1"]}`)
	if recorder.Code != http.StatusBadRequest || !strings.Contains(recorder.Body.String(), "invalid_order") {
		t.Fatalf("expected invalid_order, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = perform(t, handler, http.MethodPost, "/playlist/items/item-3/move", `{"targetId":"item-2"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	ids := engine.Playlist().IDs()
	if ids[0] != "item-1" || ids[1] != "item-2" || ids[2] != "item-3" {
		t.Fatalf("unexpected order after move: %v", ids)
	}
}

func TestRemoveAndActiveEndpoints(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	if _, err := engine.AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ""); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	recorder := perform(t, handler, http.MethodPut, "/playlist/active", `{"id":"item-1"}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = perform(t, handler, http.MethodPut, "/playlist/active", `{"id":"missing"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown active id, got %d", recorder.Code)
	}

	recorder = perform(t, handler, http.MethodDelete, "/playlist/items/item-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	var removed removeResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &removed); err != nil {
		t.Fatalf("failed to decode remove response: %v", err)
	}
	if !removed.Removed || !removed.WasActive {
		t.Fatalf("expected active removal, got %+v", removed)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	handler, engine, _ := newTestHandler(t)

	var status statusResponsePayload
	recorder := perform(t, handler, http.MethodGet, "/sync/status", "")
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Status != "disconnected" || status.ParticipantID != "participant_http" || status.LastApplied != nil {
		t.Fatalf("unexpected initial status %+v", status)
	}

	engine.MarkTransportReady(context.Background())
	if _, err := engine.AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ""); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}
	recorder = perform(t, handler, http.MethodGet, "/sync/status", "")
	status = statusResponsePayload{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Status != "connected" || status.Items != 1 || status.LastApplied == nil || status.LastApplied.Action != "ADD" {
		t.Fatalf("unexpected status after add %+v", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler, engine, _ := newTestHandler(t)
	if _, err := engine.AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ""); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}
	recorder := perform(t, handler, http.MethodGet, "/metrics", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "watchparty_playlist_length") {
		t.Fatalf("expected playlist gauge in metrics output")
	}
}
