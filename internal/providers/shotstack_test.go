package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShotstackSubmitBuildsTimeline(t *testing.T) {
	var edit shotstackEdit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "ss-key" {
			t.Errorf("api key header = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&edit)
		w.Write([]byte(`{"success":true,"response":{"id":"render-1"}}`))
	}))
	t.Cleanup(srv.Close)

	s := NewShotstackCompiler(&Credential{Endpoint: srv.URL, Token: "ss-key"})
	clips := []string{"https://vid.example/1.mp4", "https://vid.example/2.mp4", "https://vid.example/3.mp4"}
	handle, err := s.Submit(context.Background(), clips, "9:16", CompileOptions{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if handle != "render-1" {
		t.Errorf("handle = %q, want render-1", handle)
	}

	if len(edit.Timeline.Tracks) != 1 || len(edit.Timeline.Tracks[0].Clips) != 3 {
		t.Fatalf("unexpected timeline shape: %+v", edit.Timeline)
	}
	first := edit.Timeline.Tracks[0].Clips[0]
	if first.Asset.Src != clips[0] || first.Start != "auto" || first.Length != "auto" {
		t.Errorf("clip 0 = %+v", first)
	}
	if edit.Output.Format != "mp4" || edit.Output.AspectRatio != "9:16" {
		t.Errorf("output = %+v", edit.Output)
	}
}

func TestShotstackSubmitRejectsEmpty(t *testing.T) {
	s := NewShotstackCompiler(nil)
	if _, err := s.Submit(context.Background(), nil, "16:9", CompileOptions{}); err == nil {
		t.Fatal("expected error for empty clip list")
	}
}

func TestShotstackPollMapping(t *testing.T) {
	tests := []struct {
		body    string
		want    VideoStatus
		wantURL string
	}{
		{`{"response":{"status":"queued"}}`, VideoQueued, ""},
		{`{"response":{"status":"rendering"}}`, VideoRunning, ""},
		{`{"response":{"status":"saving"}}`, VideoRunning, ""},
		{`{"response":{"status":"done","url":"https://cdn.example/final.mp4"}}`, VideoDone, "https://cdn.example/final.mp4"},
		{`{"response":{"status":"failed","error":"bad asset"}}`, VideoFailed, ""},
		// A done render without a URL is unusable.
		{`{"response":{"status":"done"}}`, VideoFailed, ""},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tt.body))
		}))
		s := NewShotstackCompiler(&Credential{Endpoint: srv.URL, Token: "k"})
		result, err := s.Poll(context.Background(), "render-1")
		srv.Close()
		if err != nil {
			t.Fatalf("Poll failed for %s: %v", tt.body, err)
		}
		if result.Status != tt.want || result.URL != tt.wantURL {
			t.Errorf("body %s: got (%q, %q), want (%q, %q)", tt.body, result.Status, result.URL, tt.want, tt.wantURL)
		}
	}
}
