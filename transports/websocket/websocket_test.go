package websocket

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"avatarchat/protocol"
)

// fakeConversation records everything the bridge forwards to it.
type fakeConversation struct {
	mu     sync.Mutex
	frames [][]byte
	rates  []int
	buffer []float64
}

func (f *fakeConversation) ProcessAudio(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeConversation) SetAudioConfig(sampleRate, channels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, sampleRate, channels)
}

func (f *fakeConversation) SendBufferStatus(bufferedMs, playbackPosition float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = append(f.buffer, bufferedMs, playbackPosition)
}

func (f *fakeConversation) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// bridgeHarness runs the bridge on a real upgraded connection and hands the
// test the browser side.
type bridgeHarness struct {
	browser *websocket.Conn
	bridge  chan *Bridge
	params  chan InitParams
	initErr chan error
}

func newBridgeHarness(t *testing.T, conv Conversation, defaults Defaults) *bridgeHarness {
	t.Helper()
	h := &bridgeHarness{
		bridge:  make(chan *Bridge, 1),
		params:  make(chan InitParams, 1),
		initErr: make(chan error, 1),
	}
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b := NewBridge(conn, nil)
		h.bridge <- b
		params, err := b.AwaitInit(2*time.Second, defaults)
		if err != nil {
			h.initErr <- err
			return
		}
		h.params <- params
		_ = b.Run(conv)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws://" + strings.TrimPrefix(server.URL, "http://")
	browser, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })
	h.browser = browser
	return h
}

func (h *bridgeHarness) send(t *testing.T, payload string) {
	t.Helper()
	if err := h.browser.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("browser write: %v", err)
	}
}

func (h *bridgeHarness) awaitParams(t *testing.T) InitParams {
	t.Helper()
	select {
	case p := <-h.params:
		return p
	case err := <-h.initErr:
		t.Fatalf("AwaitInit failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("init never completed")
	}
	return InitParams{}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitAppliesDefaults(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{
		Avatar:     "mexican_woman",
		Expression: "neutral",
		Prompt:     "You are a helpful assistant.",
		Language:   "en",
	})

	h.send(t, `{"type":"init","data":{"language":"es"}}`)
	params := h.awaitParams(t)

	if params.Avatar != "mexican_woman" || params.Expression != "neutral" {
		t.Fatalf("defaults not applied: %+v", params)
	}
	if params.Language != "es" {
		t.Fatalf("language = %q, want es", params.Language)
	}
	if !params.UsePregen {
		t.Fatal("use_pregen should default to true")
	}
}

func TestInitUsePregenOverride(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{Language: "en"})

	h.send(t, `{"type":"init","data":{"avatar":"custom","use_pregen":false}}`)
	params := h.awaitParams(t)

	if params.UsePregen {
		t.Fatal("use_pregen override ignored")
	}
	if params.Avatar != "custom" {
		t.Fatalf("avatar = %q", params.Avatar)
	}
}

func TestNonInitFirstMessageRejectedWithError(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})

	h.send(t, `{"type":"audio_config","data":{"sample_rate":16000}}`)

	select {
	case err := <-h.initErr:
		if err == nil {
			t.Fatal("expected init error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitInit did not fail")
	}

	// The browser gets an error envelope before the handler gives up.
	_ = h.browser.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := h.browser.ReadMessage()
	if err != nil {
		t.Fatalf("browser read: %v", err)
	}
	if string(msg) != `{"type":"error","data":"Expected init message"}` {
		t.Fatalf("error envelope = %s", msg)
	}
}

func TestAudioDroppedBeforeConfig(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})
	h.send(t, `{"type":"init","data":{}}`)
	h.awaitParams(t)

	if err := h.browser.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("browser write: %v", err)
	}
	h.send(t, `{"type":"audio_config","data":{"format":"linear16","sample_rate":16000,"channel_count":1}}`)

	waitFor(t, func() bool {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		return len(conv.rates) > 0
	}, "audio_config never forwarded")

	conv.mu.Lock()
	rates := conv.rates
	frames := len(conv.frames)
	conv.mu.Unlock()
	if frames != 0 {
		t.Fatalf("%d frames forwarded before audio_config", frames)
	}
	if rates[0] != 16000 || rates[1] != 1 {
		t.Fatalf("SetAudioConfig(%d, %d), want (16000, 1)", rates[0], rates[1])
	}
}

func TestStereoAudioNormalizedToMono(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})
	h.send(t, `{"type":"init","data":{}}`)
	h.awaitParams(t)
	h.send(t, `{"type":"audio_config","data":{"format":"linear16","sample_rate":48000,"channel_count":2}}`)

	waitFor(t, func() bool {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		return len(conv.rates) > 0
	}, "audio_config never forwarded")

	// One stereo frame of samples (100, 300): the mono downmix is 200.
	frame := make([]byte, 4)
	binary.LittleEndian.PutUint16(frame[0:], 100)
	binary.LittleEndian.PutUint16(frame[2:], 300)
	if err := h.browser.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("browser write: %v", err)
	}

	waitFor(t, func() bool { return conv.frameCount() == 1 }, "frame never forwarded")
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if len(conv.frames[0]) != 2 {
		t.Fatalf("forwarded frame length = %d, want 2", len(conv.frames[0]))
	}
	if got := int16(binary.LittleEndian.Uint16(conv.frames[0])); got != 200 {
		t.Fatalf("downmixed sample = %d, want 200", got)
	}
}

func TestBufferStatusForwarded(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})
	h.send(t, `{"type":"init","data":{}}`)
	h.awaitParams(t)

	h.send(t, `{"type":"buffer_status","data":{"buffered_ms":1200,"playback_position":4.5}}`)

	waitFor(t, func() bool {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		return len(conv.buffer) == 2
	}, "buffer_status never forwarded")

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.buffer[0] != 1200 || conv.buffer[1] != 4.5 {
		t.Fatalf("buffer_status = %v", conv.buffer)
	}
}

func TestMalformedControlDropped(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})
	h.send(t, `{"type":"init","data":{}}`)
	h.awaitParams(t)

	h.send(t, `{not json`)
	h.send(t, `{"type":"mystery"}`)

	// The session survives malformed input; a later valid message still lands.
	h.send(t, `{"type":"buffer_status","data":{"buffered_ms":1,"playback_position":0}}`)
	waitFor(t, func() bool {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		return len(conv.buffer) == 2
	}, "session did not survive malformed control message")
}

func TestOutboundEnvelopes(t *testing.T) {
	conv := &fakeConversation{}
	h := newBridgeHarness(t, conv, Defaults{})
	h.send(t, `{"type":"init","data":{}}`)
	h.awaitParams(t)

	var b *Bridge
	select {
	case b = <-h.bridge:
	case <-time.After(2 * time.Second):
		t.Fatal("no bridge")
	}

	b.SendStatus("thinking")
	b.SendSessionReady("sess-1")
	b.SendVideo([]byte{0xAB, 0xCD})

	read := func() (int, []byte) {
		_ = h.browser.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, msg, err := h.browser.ReadMessage()
		if err != nil {
			t.Fatalf("browser read: %v", err)
		}
		return msgType, msg
	}

	if _, msg := read(); string(msg) != `{"type":"status","data":"thinking"}` {
		t.Fatalf("status envelope = %s", msg)
	}

	_, msg := read()
	msgType, raw, err := protocol.Unmarshal(msg)
	if err != nil || msgType != protocol.MsgSessionReady {
		t.Fatalf("session_ready envelope = %s (%v)", msg, err)
	}
	ready, err := protocol.UnmarshalData[protocol.SessionReadyPayload](raw)
	if err != nil || ready.SessionID != "sess-1" {
		t.Fatalf("session_ready payload = %+v, err %v", ready, err)
	}

	kind, msg := read()
	if kind != websocket.BinaryMessage || len(msg) != 2 {
		t.Fatalf("video frame kind=%d len=%d", kind, len(msg))
	}
}

func TestSessionIDsAreUniquePerBridge(t *testing.T) {
	conv := &fakeConversation{}
	h1 := newBridgeHarness(t, conv, Defaults{})
	h2 := newBridgeHarness(t, conv, Defaults{})
	h1.send(t, `{"type":"init","data":{}}`)
	h2.send(t, `{"type":"init","data":{}}`)
	h1.awaitParams(t)
	h2.awaitParams(t)

	b1 := <-h1.bridge
	b2 := <-h2.bridge
	if b1.SessionID() == b2.SessionID() {
		t.Fatal("two bridges share a session id")
	}
	if b1.SessionID() == "" {
		t.Fatal("empty session id")
	}
}
