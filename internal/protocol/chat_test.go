package protocol

import (
	"errors"
	"testing"
)

func TestChatFrameRoundTrip(t *testing.T) {
	in := ChatFrame{RoomName: "lobby", Token: "tok-123", Message: "hello there"}

	raw, err := EncodeChatFrame(in)
	if err != nil {
		t.Fatalf("EncodeChatFrame: %v", err)
	}
	out, err := ParseChatFrame(raw)
	if err != nil {
		t.Fatalf("ParseChatFrame: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestChatFrameEmptyMessage(t *testing.T) {
	raw, err := EncodeChatFrame(ChatFrame{RoomName: "r", Token: "t"})
	if err != nil {
		t.Fatalf("EncodeChatFrame: %v", err)
	}
	out, err := ParseChatFrame(raw)
	if err != nil {
		t.Fatalf("ParseChatFrame: %v", err)
	}
	if out.Message != "" {
		t.Errorf("message = %q, want empty", out.Message)
	}
}

func TestParseChatFrameTruncated(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"one byte", []byte{5}},
		{"short body", []byte{5, 3, 'l', 'o', 'b'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseChatFrame(tt.raw); !errors.Is(err, ErrTruncated) {
				t.Errorf("err = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestParseChatFrameInvalidUTF8(t *testing.T) {
	raw := []byte{1, 1, 0xFF, 't', 'h', 'i'}
	if _, err := ParseChatFrame(raw); !errors.Is(err, ErrUndecodable) {
		t.Errorf("err = %v, want ErrUndecodable", err)
	}
}

func TestBroadcastFrame(t *testing.T) {
	got := BroadcastFrame("alice", "hello")
	if string(got) != "alice: hello" {
		t.Errorf("got %q, want %q", got, "alice: hello")
	}

	// Empty messages still produce the username prefix
	got = BroadcastFrame("bob", "")
	if string(got) != "bob: " {
		t.Errorf("got %q, want %q", got, "bob: ")
	}
}
