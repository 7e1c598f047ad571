// Package network implements the two client-facing listeners of the relay:
// the TCRP handshake server on TCP and the chat fan-out loop on UDP.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/events"
	"github.com/chatrelay-project/chatrelay/internal/protocol"
	"github.com/chatrelay-project/chatrelay/internal/registry"
)

const (
	// HandshakeTimeout bounds the whole request/response exchange of one
	// TCRP connection.
	HandshakeTimeout = 10 * time.Second
)

// TCRPListener accepts TCP connections and serves exactly one TCRP
// request/response per connection: create or join a room, answer with a
// session token or a rejection code, close. Framing errors close the
// connection without a response.
type TCRPListener struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *registry.Registry

	mu       sync.Mutex
	listener net.Listener
}

// NewTCRPListener creates a new TCRP handshake listener.
func NewTCRPListener(cfg *config.Config, eventBus *events.EventBus, reg *registry.Registry) *TCRPListener {
	return &TCRPListener{
		cfg:      cfg,
		eventBus: eventBus,
		registry: reg,
	}
}

// Start begins accepting handshake connections. It blocks until ctx is
// cancelled; cancelling closes the listening socket, which unblocks Accept.
func (l *TCRPListener) Start(ctx context.Context) error {
	addr := l.cfg.ControlAddr()

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCRP listener on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("TCRP listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCRP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		// One goroutine per handshake; connections are short-lived
		go l.handleConnection(ctx, conn)
	}
}

// Addr returns the bound listener address, or nil before Start has bound it.
func (l *TCRPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the listening socket.
func (l *TCRPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// handleConnection serves one TCRP exchange. The protocol is strictly one
// request, one response, close: no pipelining, no keep-alive.
func (l *TCRPListener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	logger := log.With().
		Str("component", "tcrp_handler").
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))

	// A short or unparseable header is a hard desync the peer cannot
	// recover from; drop the connection without responding.
	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		logger.Debug().Err(err).Msg("short header read, dropping connection")
		return
	}

	h, err := protocol.ParseHeader(header)
	if err != nil {
		logger.Debug().Err(err).Msg("malformed header, dropping connection")
		return
	}

	body := make([]byte, h.BodyLen())
	if _, err := io.ReadFull(conn, body); err != nil {
		logger.Debug().Err(err).Msg("short body read, dropping connection")
		return
	}

	frame, err := protocol.ParseBody(h, body)
	if err != nil {
		logger.Debug().Err(err).Msg("malformed body, dropping connection")
		return
	}

	username, password := protocol.SplitCredentials(frame.Payload)

	switch frame.Operation {
	case protocol.OpCreate:
		token, err := l.registry.CreateRoom(frame.RoomName, username, password)
		if err != nil {
			logger.Info().
				Str("room", frame.RoomName).
				Str("code", rejectCode(err)).
				Msg("create rejected")
			l.respond(conn, frame, protocol.StateError, []byte(rejectCode(err)))
			return
		}
		l.respond(conn, frame, protocol.StateSuccess, []byte(token))
		l.eventBus.Emit(ctx, events.Event{
			Type:   events.EventRoomCreated,
			Source: "tcrp",
			Payload: events.RoomCreatedPayload{
				RoomName: frame.RoomName,
				Username: username,
			},
		})

	case protocol.OpJoin:
		token, err := l.registry.JoinRoom(frame.RoomName, username, password)
		if err != nil {
			logger.Info().
				Str("room", frame.RoomName).
				Str("code", rejectCode(err)).
				Msg("join rejected")
			l.respond(conn, frame, protocol.StateError, []byte(rejectCode(err)))
			return
		}
		l.respond(conn, frame, protocol.StateSuccess, []byte(token))
		l.eventBus.Emit(ctx, events.Event{
			Type:   events.EventParticipantJoined,
			Source: "tcrp",
			Payload: events.ParticipantJoinedPayload{
				RoomName: frame.RoomName,
				Username: username,
			},
		})

	default:
		logger.Warn().
			Uint8("operation", frame.Operation).
			Msg("invalid operation code")
		l.respond(conn, frame, protocol.StateError, []byte(protocol.CodeInvalidOperation))
	}
}

// respond writes the single response frame of an exchange, echoing the
// request's operation and room name.
func (l *TCRPListener) respond(conn net.Conn, req protocol.Frame, state byte, payload []byte) {
	data, err := protocol.EncodeFrame(protocol.Frame{
		Operation: req.Operation,
		State:     state,
		RoomName:  req.RoomName,
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode TCRP response")
		return
	}

	if _, err := conn.Write(data); err != nil {
		log.Debug().Err(err).Msg("failed to write TCRP response")
	}
}

// rejectCode extracts the wire code of a registry rejection.
func rejectCode(err error) string {
	var rej *registry.RejectError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return protocol.CodeInvalidOperation
}
