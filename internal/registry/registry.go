// Package registry implements the in-memory session registry: rooms, their
// participants, and the token binding index. It is the sole owner of shared
// relay state; every operation is one critical section under a single mutex
// shared by the TCRP handshake server, the UDP relay, and the reaper.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatrelay-project/chatrelay/internal/protocol"
)

// RejectError is an application-level handshake rejection. Code is the
// machine-readable token carried verbatim in the TCRP error response.
type RejectError struct {
	Code string
}

func (e *RejectError) Error() string {
	return e.Code
}

var (
	ErrRoomAlreadyExists = &RejectError{Code: protocol.CodeRoomAlreadyExists}
	ErrRoomNotFound      = &RejectError{Code: protocol.CodeRoomNotFound}
	ErrWrongPassword     = &RejectError{Code: protocol.CodeWrongPassword}
)

// Participant is one member of a room.
type Participant struct {
	Username string
	Token    string

	// Addr is nil until the first valid chat frame carrying the token
	// arrives, after which it is fixed for the participant's lifetime.
	Addr *net.UDPAddr

	LastActiveAt time.Time
}

// Room groups participants under a unique name. A room's lifetime is tied
// to the presence of the participant holding HostToken.
type Room struct {
	Name         string
	HostToken    string
	Password     string
	Participants map[string]*Participant
	Active       bool
}

// binding is one entry of the token index, mirroring a room's participant
// map entry. Both structures are mutated in the same critical section and
// never disagree about which tokens are live.
type binding struct {
	room        *Room
	participant *Participant
}

// Registry is the synchronized owner of all rooms and tokens.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	tokens map[string]binding

	clock  func() time.Time
	logger zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		tokens: make(map[string]binding),
		clock:  time.Now,
		logger: log.With().Str("component", "registry").Logger(),
	}
}

// newTokenLocked allocates a session token that is not currently live.
// UUIDv4 collisions are not a practical concern; the check guards the
// never-reused invariant regardless.
func (r *Registry) newTokenLocked() string {
	for {
		token := uuid.NewString()
		if _, exists := r.tokens[token]; !exists {
			return token
		}
	}
}

// CreateRoom creates a new room with the caller as its host and sole
// participant. Fails with ErrRoomAlreadyExists when an active room of the
// same name exists.
func (r *Registry) CreateRoom(name, username, password string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[name]; ok && room.Active {
		return "", ErrRoomAlreadyExists
	}

	token := r.newTokenLocked()
	p := &Participant{
		Username:     username,
		Token:        token,
		LastActiveAt: r.clock(),
	}
	room := &Room{
		Name:         name,
		HostToken:    token,
		Password:     password,
		Participants: map[string]*Participant{token: p},
		Active:       true,
	}

	r.rooms[name] = room
	r.tokens[token] = binding{room: room, participant: p}

	r.logger.Info().
		Str("room", name).
		Str("username", username).
		Msg("room created")

	return token, nil
}

// JoinRoom adds a participant to an existing active room. The supplied
// password must match the stored one exactly, including empty-vs-empty.
func (r *Registry) JoinRoom(name, username, password string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok || !room.Active {
		return "", ErrRoomNotFound
	}
	if room.Password != password {
		return "", ErrWrongPassword
	}

	token := r.newTokenLocked()
	p := &Participant{
		Username:     username,
		Token:        token,
		LastActiveAt: r.clock(),
	}
	room.Participants[token] = p
	r.tokens[token] = binding{room: room, participant: p}

	r.logger.Info().
		Str("room", name).
		Str("username", username).
		Msg("participant joined")

	return token, nil
}

// AuthenticateAndTouch validates a chat frame's token against roomName and
// the sender's address, binding the address on first use. The first sender
// of a valid frame owns the binding; later frames from a different IP fail,
// while a changed source port from the same IP is tolerated (the bound port
// stays authoritative for delivery). On success the participant's liveness
// timestamp is set to now and its username returned.
func (r *Registry) AuthenticateAndTouch(token, roomName string, sender *net.UDPAddr, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.tokens[token]
	if !ok || b.room.Name != roomName || !b.room.Active {
		return "", false
	}

	p := b.participant
	if p.Addr == nil {
		p.Addr = &net.UDPAddr{
			IP:   append(net.IP(nil), sender.IP...),
			Port: sender.Port,
		}
	} else if !p.Addr.IP.Equal(sender.IP) {
		return "", false
	}

	p.LastActiveAt = now
	return p.Username, true
}

// Recipient is one fan-out target of a broadcast.
type Recipient struct {
	Token string
	Addr  *net.UDPAddr
}

// ParticipantsOf returns the delivery targets of an active room. Addr is
// nil for participants that have not yet sent a chat frame. The returned
// slice is a snapshot; network sends happen outside the registry lock.
func (r *Registry) ParticipantsOf(roomName string) []Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomName]
	if !ok || !room.Active {
		return nil
	}

	out := make([]Recipient, 0, len(room.Participants))
	for _, p := range room.Participants {
		rcpt := Recipient{Token: p.Token}
		if p.Addr != nil {
			addr := *p.Addr
			rcpt.Addr = &addr
		}
		out = append(out, rcpt)
	}
	return out
}

// Eviction reports one participant removed by a sweep.
type Eviction struct {
	RoomName string
	Username string
	Token    string
}

// ClosedRoom reports one room closed by a sweep, with the number of
// participants dropped when it closed.
type ClosedRoom struct {
	Name    string
	Dropped int
}

// SweepResult is what one reaper pass removed.
type SweepResult struct {
	Closed  []ClosedRoom
	Evicted []Eviction
}

// Sweep removes participants idle past the deadline and closes rooms whose
// host is gone. A host that times out closes its room within the same
// sweep, not the next one. All removals mutate the participant map and the
// token index in the same critical section.
func (r *Registry) Sweep(now time.Time, idleDeadline time.Duration) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	cutoff := now.Add(-idleDeadline)

	for name, room := range r.rooms {
		if _, ok := room.Participants[room.HostToken]; !ok {
			res.Closed = append(res.Closed, ClosedRoom{Name: name, Dropped: r.closeRoomLocked(room)})
			continue
		}

		for token, p := range room.Participants {
			if p.LastActiveAt.Before(cutoff) {
				delete(room.Participants, token)
				delete(r.tokens, token)
				res.Evicted = append(res.Evicted, Eviction{
					RoomName: name,
					Username: p.Username,
					Token:    token,
				})
			}
		}

		if _, ok := room.Participants[room.HostToken]; !ok {
			res.Closed = append(res.Closed, ClosedRoom{Name: name, Dropped: r.closeRoomLocked(room)})
		}
	}

	return res
}

// CloseRoom closes a room on operator request, dropping every participant.
// Returns false when no active room of that name exists.
func (r *Registry) CloseRoom(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok || !room.Active {
		return 0, false
	}
	return r.closeRoomLocked(room), true
}

// closeRoomLocked marks a room inactive, clears its participants, removes
// their index entries, and unlinks the room. Returns the number of
// participants dropped. Caller holds r.mu.
func (r *Registry) closeRoomLocked(room *Room) int {
	dropped := len(room.Participants)
	for token := range room.Participants {
		delete(r.tokens, token)
		delete(room.Participants, token)
	}
	room.Active = false
	delete(r.rooms, room.Name)

	r.logger.Info().
		Str("room", room.Name).
		Int("dropped", dropped).
		Msg("room closed")

	return dropped
}

// ParticipantInfo is a read-only participant view for the monitoring
// surfaces. Session tokens are deliberately omitted.
type ParticipantInfo struct {
	Username     string    `json:"username"`
	IsHost       bool      `json:"is_host"`
	Bound        bool      `json:"bound"`
	Address      string    `json:"address,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// RoomInfo is a read-only room view for the monitoring surfaces.
type RoomInfo struct {
	Name         string            `json:"name"`
	HasPassword  bool              `json:"has_password"`
	HostUsername string            `json:"host_username"`
	Participants []ParticipantInfo `json:"participants"`
}

// Snapshot returns a point-in-time view of all active rooms.
func (r *Registry) Snapshot() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		info := RoomInfo{
			Name:         room.Name,
			HasPassword:  room.Password != "",
			Participants: make([]ParticipantInfo, 0, len(room.Participants)),
		}
		if host, ok := room.Participants[room.HostToken]; ok {
			info.HostUsername = host.Username
		}
		for _, p := range room.Participants {
			pi := ParticipantInfo{
				Username:     p.Username,
				IsHost:       p.Token == room.HostToken,
				Bound:        p.Addr != nil,
				LastActiveAt: p.LastActiveAt,
			}
			if p.Addr != nil {
				pi.Address = p.Addr.String()
			}
			info.Participants = append(info.Participants, pi)
		}
		out = append(out, info)
	}
	return out
}

// Counts returns the number of active rooms and total participants.
func (r *Registry) Counts() (rooms, participants int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		rooms++
		participants += len(room.Participants)
	}
	return rooms, participants
}
