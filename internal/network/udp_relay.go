package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/protocol"
	"github.com/chatrelay-project/chatrelay/internal/registry"
)

// UDPRelay receives chat datagrams, authenticates them against the session
// registry, and fans each accepted message out to every participant of the
// room, the sender included. Malformed or unauthorized datagrams are
// dropped silently; there is no reply channel on UDP and answering would
// let a peer probe token validity.
type UDPRelay struct {
	cfg      *config.Config
	registry *registry.Registry

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPRelay creates a new chat relay.
func NewUDPRelay(cfg *config.Config, reg *registry.Registry) *UDPRelay {
	return &UDPRelay{
		cfg:      cfg,
		registry: reg,
	}
}

// Start begins the receive loop. It blocks until ctx is cancelled;
// cancelling closes the socket, which unblocks the pending read.
func (r *UDPRelay) Start(ctx context.Context) error {
	addr := r.cfg.DataAddr()

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP relay on %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("UDP relay started")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, r.cfg.GetRelay().UDPBufferSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("UDP relay stopping")
				return nil
			default:
				log.Error().Err(err).Msg("UDP read error")
				continue
			}
		}

		if n == 0 {
			continue
		}

		frame, err := protocol.ParseChatFrame(buf[:n])
		if err != nil {
			log.Debug().
				Err(err).
				Str("remote", remote.String()).
				Msg("dropping malformed datagram")
			continue
		}

		username, ok := r.registry.AuthenticateAndTouch(frame.Token, frame.RoomName, remote, time.Now())
		if !ok {
			log.Debug().
				Str("remote", remote.String()).
				Str("room", frame.RoomName).
				Msg("dropping unauthorized datagram")
			continue
		}

		log.Trace().
			Str("room", frame.RoomName).
			Str("username", username).
			Int("bytes", len(frame.Message)).
			Msg("relaying message")

		r.broadcast(conn, frame.RoomName, username, frame.Message)
	}
}

// broadcast fans one message out to every bound participant of a room.
// Recipient addresses are gathered under the registry lock; the sends
// happen outside it. A send failure to one recipient never aborts
// delivery to the rest.
func (r *UDPRelay) broadcast(conn *net.UDPConn, roomName, username, message string) {
	recipients := r.registry.ParticipantsOf(roomName)
	if len(recipients) == 0 {
		return
	}

	data := protocol.BroadcastFrame(username, message)

	for _, rcpt := range recipients {
		if rcpt.Addr == nil {
			// Participant has not sent a frame yet; nowhere to deliver
			continue
		}
		if _, err := conn.WriteToUDP(data, rcpt.Addr); err != nil {
			log.Warn().
				Err(err).
				Str("room", roomName).
				Str("recipient", rcpt.Addr.String()).
				Msg("failed to deliver broadcast")
		}
	}
}

// LocalAddr returns the bound socket address, or nil before Start has bound it.
func (r *UDPRelay) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the relay socket.
func (r *UDPRelay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
