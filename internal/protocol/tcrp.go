// Package protocol implements the two wire formats of the relay: the TCRP
// handshake frame exchanged over TCP and the chat frame carried over UDP.
// All functions are pure; no connection state lives here.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// TCRP frame layout: a fixed 32-byte header followed by a variable body.
// Header: [roomNameLen:1][operation:1][state:1][payloadLen:1][reserved:28]
// Body:   [roomName bytes][payload bytes]
const (
	HeaderSize = 32

	// Operations
	OpCreate byte = 1
	OpJoin   byte = 2

	// States
	StateRequest byte = 0
	StateError   byte = 1
	StateSuccess byte = 2
)

// Machine-readable rejection codes carried in TCRP error-response payloads.
const (
	CodeRoomAlreadyExists = "ROOM_ALREADY_EXISTS"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeWrongPassword     = "WRONG_PASSWORD"
	CodeInvalidOperation  = "INVALID_OPERATION"
)

var (
	// ErrMalformedHeader indicates fewer than HeaderSize bytes were available.
	ErrMalformedHeader = errors.New("malformed TCRP header")

	// ErrTruncated indicates a body shorter than its declared lengths.
	ErrTruncated = errors.New("truncated frame")

	// ErrUndecodable indicates frame content that is not valid UTF-8.
	ErrUndecodable = errors.New("frame content is not valid UTF-8")
)

// Header is the parsed fixed-size portion of a TCRP frame.
type Header struct {
	RoomNameLen byte
	Operation   byte
	State       byte
	PayloadLen  byte
}

// BodyLen returns the number of body bytes the header declares.
func (h Header) BodyLen() int {
	return int(h.RoomNameLen) + int(h.PayloadLen)
}

// ParseHeader decodes the 32-byte TCRP header. Bytes 4..31 are reserved
// and ignored on input.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrMalformedHeader
	}
	return Header{
		RoomNameLen: b[0],
		Operation:   b[1],
		State:       b[2],
		PayloadLen:  b[3],
	}, nil
}

// Frame is a fully decoded TCRP frame.
type Frame struct {
	Operation byte
	State     byte
	RoomName  string
	Payload   []byte
}

// ParseBody splits the body bytes of a frame according to its header.
func ParseBody(h Header, body []byte) (Frame, error) {
	if len(body) < h.BodyLen() {
		return Frame{}, ErrTruncated
	}

	nameEnd := int(h.RoomNameLen)
	payload := make([]byte, h.PayloadLen)
	copy(payload, body[nameEnd:nameEnd+int(h.PayloadLen)])

	return Frame{
		Operation: h.Operation,
		State:     h.State,
		RoomName:  string(body[:nameEnd]),
		Payload:   payload,
	}, nil
}

// EncodeFrame serializes a frame as header + body. The room name and
// payload must each fit in a single length byte.
func EncodeFrame(f Frame) ([]byte, error) {
	name := []byte(f.RoomName)
	if len(name) > 255 {
		return nil, fmt.Errorf("room name too long: %d bytes (max 255)", len(name))
	}
	if len(f.Payload) > 255 {
		return nil, fmt.Errorf("payload too long: %d bytes (max 255)", len(f.Payload))
	}

	buf := make([]byte, HeaderSize+len(name)+len(f.Payload))
	buf[0] = byte(len(name))
	buf[1] = f.Operation
	buf[2] = f.State
	buf[3] = byte(len(f.Payload))
	copy(buf[HeaderSize:], name)
	copy(buf[HeaderSize+len(name):], f.Payload)

	return buf, nil
}

// EncodeCredentials builds the request payload: UTF-8 text of
// "username password", with the password omitted when empty.
func EncodeCredentials(username, password string) []byte {
	if password == "" {
		return []byte(username)
	}
	return []byte(username + " " + password)
}

// SplitCredentials decodes a request payload into username and password.
// A missing password decodes as empty; a missing username as "unknown".
func SplitCredentials(payload []byte) (username, password string) {
	username = "unknown"

	fields := strings.Fields(string(payload))
	if len(fields) >= 1 {
		username = fields[0]
	}
	if len(fields) >= 2 {
		password = fields[1]
	}
	return username, password
}
