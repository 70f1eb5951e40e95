package protocol

import (
	"strings"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b, err := Marshal(MsgTextInput, TextInputPayload{
		Text:       "Hello there.",
		Expression: "happy",
		Mode:       "dynamic_only",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	msgType, raw, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msgType != MsgTextInput {
		t.Fatalf("type = %q, want %q", msgType, MsgTextInput)
	}

	data, err := UnmarshalData[TextInputPayload](raw)
	if err != nil {
		t.Fatalf("UnmarshalData: %v", err)
	}
	if data.Text != "Hello there." || data.Expression != "happy" || data.Mode != "dynamic_only" {
		t.Fatalf("payload = %+v", data)
	}
}

func TestMarshalOmitsEmptyOptionalFields(t *testing.T) {
	b, err := Marshal(MsgTextInput, TextInputPayload{Text: "plain"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "expression") || strings.Contains(s, "mode") {
		t.Fatalf("empty optional fields serialized: %s", s)
	}
}

func TestMarshalNilData(t *testing.T) {
	b, err := Marshal(MsgTextStreamDone, nil)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	msgType, raw, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msgType != MsgTextStreamDone {
		t.Fatalf("type = %q", msgType)
	}
	if len(raw) != 0 {
		t.Fatalf("data = %s, want empty", raw)
	}
}

func TestMarshalStringData(t *testing.T) {
	b, err := Marshal(MsgStatus, "thinking")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"type":"status","data":"thinking"}` {
		t.Fatalf("wire form = %s", b)
	}
}

func TestUnmarshalMissingType(t *testing.T) {
	if _, _, err := Unmarshal([]byte(`{"data":{"text":"hi"}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	if _, _, err := Unmarshal([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestUnmarshalUnknownTypePreserved(t *testing.T) {
	msgType, _, err := Unmarshal([]byte(`{"type":"future_thing","data":{}}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msgType != "future_thing" {
		t.Fatalf("type = %q", msgType)
	}
}
