package cosyvoice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosyvoice-gateway/internal/domain/synth"
	"cosyvoice-gateway/internal/platform/config"
	"cosyvoice-gateway/internal/platform/logging"
)

func enginereq(text, speaker string) synth.EngineRequest {
	return synth.EngineRequest{Text: text, SpeakerRef: speaker, Speed: 1.0}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return NewClient(config.EngineConfig{
		URL:        srv.URL,
		Timeout:    time.Second,
		FrameBytes: 1024,
	}, logger)
}

func TestSynthesizeStreamsFrames(t *testing.T) {
	pcm := make([]byte, 2500)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if payload["speaker"] != "中文女" {
			t.Errorf("speaker not forwarded: %v", payload["speaker"])
		}
		w.Header().Set("X-Sample-Rate", "24000")
		w.Header().Set("X-Channels", "1")
		w.Header().Set("X-Speed-Applied", "true")
		_, _ = w.Write(pcm)
	})

	client := newTestClient(t, mux)
	stream, err := client.Synthesize(context.Background(), enginereq("你好", "中文女"))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer stream.Close()

	if stream.Format().SampleRate != 24000 {
		t.Fatalf("sample rate header ignored: %d", stream.Format().SampleRate)
	}

	var got []byte
	frames := 0
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, frame...)
		frames++
	}
	if len(got) != len(pcm) {
		t.Fatalf("reassembled %d bytes, want %d", len(got), len(pcm))
	}
	if frames != 3 {
		t.Fatalf("expected 3 frames of 1024/1024/452 bytes, got %d", frames)
	}
}

func TestSynthesizeEngineError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	client := newTestClient(t, mux)
	if _, err := client.Synthesize(context.Background(), enginereq("hi", "spk")); err == nil {
		t.Fatal("expected error from non-200 status")
	}
}

func TestCloneVoiceRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clone", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("name") != "narrator" {
			t.Errorf("name not forwarded: %s", r.FormValue("name"))
		}
		if _, _, err := r.FormFile("sample"); err != nil {
			t.Errorf("sample file missing: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"speaker_ref": "spk_42"})
	})

	client := newTestClient(t, mux)
	ref, err := client.CloneVoice(context.Background(), "narrator", []byte("fake-audio"))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if ref != "spk_42" {
		t.Fatalf("speaker ref %s", ref)
	}
}

func TestDeleteVoice(t *testing.T) {
	deleted := ""
	mux := http.NewServeMux()
	mux.HandleFunc("/voices/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method %s", r.Method)
		}
		deleted = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t, mux)
	if err := client.DeleteVoice(context.Background(), "spk_42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != "/voices/spk_42" {
		t.Fatalf("unexpected path %s", deleted)
	}
}

func TestPing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, mux)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
