package protocol

import (
	"fmt"
	"unicode/utf8"
)

// UDP chat frame layout (inbound):
// [roomNameLen:1][tokenLen:1][roomName bytes][token bytes][message bytes...]
// The message runs to the end of the datagram and may be empty.
//
// Outbound broadcast frames are plain UTF-8 text ("<username>: <message>")
// with no header; the client only renders them.

// ChatFrame is a decoded inbound chat datagram.
type ChatFrame struct {
	RoomName string
	Token    string
	Message  string
}

// ParseChatFrame decodes an inbound chat datagram. It returns ErrTruncated
// when the datagram is shorter than its declared lengths and ErrUndecodable
// when any field is not valid UTF-8. Callers drop both silently; UDP has no
// reply channel for malformed input.
func ParseChatFrame(b []byte) (ChatFrame, error) {
	if len(b) < 2 {
		return ChatFrame{}, ErrTruncated
	}

	nameLen := int(b[0])
	tokenLen := int(b[1])
	if len(b) < 2+nameLen+tokenLen {
		return ChatFrame{}, ErrTruncated
	}

	name := b[2 : 2+nameLen]
	token := b[2+nameLen : 2+nameLen+tokenLen]
	message := b[2+nameLen+tokenLen:]

	if !utf8.Valid(name) || !utf8.Valid(token) || !utf8.Valid(message) {
		return ChatFrame{}, ErrUndecodable
	}

	return ChatFrame{
		RoomName: string(name),
		Token:    string(token),
		Message:  string(message),
	}, nil
}

// EncodeChatFrame serializes a chat frame for sending to the relay.
func EncodeChatFrame(f ChatFrame) ([]byte, error) {
	name := []byte(f.RoomName)
	token := []byte(f.Token)
	if len(name) > 255 {
		return nil, fmt.Errorf("room name too long: %d bytes (max 255)", len(name))
	}
	if len(token) > 255 {
		return nil, fmt.Errorf("token too long: %d bytes (max 255)", len(token))
	}

	buf := make([]byte, 0, 2+len(name)+len(token)+len(f.Message))
	buf = append(buf, byte(len(name)), byte(len(token)))
	buf = append(buf, name...)
	buf = append(buf, token...)
	buf = append(buf, f.Message...)
	return buf, nil
}

// BroadcastFrame builds the outbound text frame fanned out to every
// participant of a room.
func BroadcastFrame(username, message string) []byte {
	return []byte(username + ": " + message)
}
