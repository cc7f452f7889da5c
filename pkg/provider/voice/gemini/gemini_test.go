package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cadenza-app/cadenza/pkg/audio"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
	"github.com/cadenza-app/cadenza/pkg/provider/voice/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// nextEvent waits for one event of the given type, skipping others.
func nextEvent(t *testing.T, sess voice.Session, typ voice.EventType) voice.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %v", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", typ)
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription *map[string]any `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := voice.SessionConfig{
		Persona: voice.Persona{
			VoiceID:     "Aoede",
			Instruction: "You are a road-trip co-pilot.",
		},
		Tools: []voice.ToolDefinition{
			{Name: "control_playback", Description: "Controls playback"},
		},
		TranscribeInput: true,
	}
	sess, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("responseModalities = %v; want [audio]", got)
		}
		if msg.Setup.GenerationConfig.SpeechConfig == nil {
			t.Fatal("speechConfig is nil")
		}
		if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Aoede" {
			t.Errorf("voiceName = %q; want Aoede", got)
		}
		if msg.Setup.SystemInstruction == nil || len(msg.Setup.SystemInstruction.Parts) == 0 ||
			msg.Setup.SystemInstruction.Parts[0].Text != "You are a road-trip co-pilot." {
			t.Errorf("unexpected system instruction: %+v", msg.Setup.SystemInstruction)
		}
		if len(msg.Setup.Tools) == 0 || len(msg.Setup.Tools[0].FunctionDeclarations) == 0 ||
			msg.Setup.Tools[0].FunctionDeclarations[0].Name != "control_playback" {
			t.Errorf("unexpected tools: %+v", msg.Setup.Tools)
		}
		if msg.Setup.InputAudioTranscription == nil {
			t.Error("inputAudioTranscription should be present when TranscribeInput is set")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case q := <-query:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Connect(ctx, voice.SessionConfig{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

// ── Capabilities ──────────────────────────────────────────────────────────────

func TestCapabilities_NonEmpty(t *testing.T) {
	t.Parallel()
	p := gemini.New("key")
	caps := p.Capabilities()
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
	if caps.MaxSessionDuration == 0 {
		t.Error("MaxSessionDuration should be non-zero")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_SendsMediaChunk(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	pkt := audio.EncodeOutbound([]float32{0.5, -0.5})
	if err := sess.SendAudio(pkt); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != audio.OutboundMIME {
			t.Errorf("mimeType = %q; want %q", chunks[0].MIMEType, audio.OutboundMIME)
		}
		if chunks[0].Data != pkt.Payload {
			t.Errorf("payload = %q; want %q", chunks[0].Data, pkt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := sess.SendAudio(audio.TransportPacket{Payload: "AA==", MIMEType: audio.OutboundMIME}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_DeliversAudioChunks(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB, 0xCC, 0xDD})

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{
							"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     encoded,
							},
						},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess, voice.EventAudio)
	if ev.Packet.Payload != encoded {
		t.Errorf("payload = %q; want %q", ev.Packet.Payload, encoded)
	}
	if ev.SampleRate != 24000 {
		t.Errorf("sample rate = %d; want 24000", ev.SampleRate)
	}
	if ev.Channels != 1 {
		t.Errorf("channels = %d; want 1", ev.Channels)
	}
}

func TestEvents_InterruptedBeforeLaterAudio(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"interrupted": true},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": encoded}},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// Wire order must be preserved: interruption first, then the new audio.
	first := nextEvent(t, sess, voice.EventInterrupted)
	if first.Type != voice.EventInterrupted {
		t.Fatalf("first event = %v; want interrupted", first.Type)
	}
	second := nextEvent(t, sess, voice.EventAudio)
	if second.Packet.Payload != encoded {
		t.Errorf("audio payload = %q; want %q", second.Packet.Payload, encoded)
	}
}

func TestEvents_Transcripts(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "play some jazz"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "Queuing it up."},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{TranscribeInput: true})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	first := nextEvent(t, sess, voice.EventTranscript)
	if first.Role != "user" || first.Text != "play some jazz" {
		t.Errorf("first transcript = %q/%q; want user/play some jazz", first.Role, first.Text)
	}
	second := nextEvent(t, sess, voice.EventTranscript)
	if second.Role != "model" || second.Text != "Queuing it up." {
		t.Errorf("second transcript = %q/%q; want model/Queuing it up.", second.Role, second.Text)
	}
}

func TestEvents_TurnComplete(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	nextEvent(t, sess, voice.EventTurnComplete)
}

// ── Tool calls ────────────────────────────────────────────────────────────────

func TestEvents_ToolCall_AndSendToolResult(t *testing.T) {
	t.Parallel()

	type toolResponseMsg struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}

	responseCh := make(chan toolResponseMsg, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{
						"id":   "fc-1",
						"name": "control_playback",
						"args": map[string]any{"action": "pause"},
					},
				},
			},
		})

		var resp toolResponseMsg
		readJSON(t, conn, &resp)
		responseCh <- resp

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess, voice.EventToolCall)
	if len(ev.Calls) != 1 {
		t.Fatalf("got %d calls; want 1", len(ev.Calls))
	}
	call := ev.Calls[0]
	if call.ID != "fc-1" || call.Name != "control_playback" {
		t.Errorf("call = %+v; want fc-1/control_playback", call)
	}
	if got := call.Args["action"]; got != "pause" {
		t.Errorf("args[action] = %v; want pause", got)
	}

	if err := sess.SendToolResult(call.ID, call.Name, "done"); err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}

	select {
	case resp := <-responseCh:
		frs := resp.ToolResponse.FunctionResponses
		if len(frs) != 1 {
			t.Fatalf("got %d function responses; want 1", len(frs))
		}
		if frs[0].ID != "fc-1" || frs[0].Name != "control_playback" {
			t.Errorf("function response = %+v", frs[0])
		}
		if got := frs[0].Response["result"]; got != "done" {
			t.Errorf("response result = %v; want done", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = sess.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-sess.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for events channel to close")
		}
	}
}

// ── Err ───────────────────────────────────────────────────────────────────────

func TestErr_NilBeforeClose(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if got := sess.Err(); got != nil {
		t.Errorf("Err() = %v; want nil before any error", got)
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), voice.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	pkt := audio.EncodeOutbound([]float32{0.1, 0.2, 0.3, 0.4})

	const goroutines = 8
	const chunksPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range chunksPerGoroutine {
				_ = sess.SendAudio(pkt)
			}
		})
	}
	wg.Wait()
}
