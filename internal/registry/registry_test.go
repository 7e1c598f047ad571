package registry

import (
	"errors"
	"net"
	"testing"
	"time"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// newTestRegistry returns a registry with a fixed clock that tests advance
// directly.
func newTestRegistry() (*Registry, *time.Time) {
	now := baseTime
	r := New()
	r.clock = func() time.Time { return now }
	return r, &now
}

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestCreateRoom(t *testing.T) {
	r, _ := newTestRegistry()

	token, err := r.CreateRoom("lobby", "alice", "secret")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	room := r.rooms["lobby"]
	if room == nil || !room.Active {
		t.Fatal("room not active")
	}
	if room.HostToken != token {
		t.Errorf("host token = %q, want %q", room.HostToken, token)
	}
	if len(room.Participants) != 1 {
		t.Errorf("participants = %d, want 1", len(room.Participants))
	}
	if _, ok := r.tokens[token]; !ok {
		t.Error("token missing from index")
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	r, _ := newTestRegistry()

	if _, err := r.CreateRoom("lobby", "alice", ""); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_, err := r.CreateRoom("lobby", "bob", "other")
	if !errors.Is(err, ErrRoomAlreadyExists) {
		t.Errorf("err = %v, want ErrRoomAlreadyExists", err)
	}

	var reject *RejectError
	if !errors.As(err, &reject) || reject.Code != "ROOM_ALREADY_EXISTS" {
		t.Errorf("reject code = %v", err)
	}
}

func TestJoinRoom(t *testing.T) {
	r, _ := newTestRegistry()

	hostToken, _ := r.CreateRoom("lobby", "alice", "secret")
	joinToken, err := r.JoinRoom("lobby", "bob", "secret")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if joinToken == "" || joinToken == hostToken {
		t.Errorf("join token = %q", joinToken)
	}

	room := r.rooms["lobby"]
	if len(room.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(room.Participants))
	}
	if room.HostToken != hostToken {
		t.Error("host token changed on join")
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.JoinRoom("nowhere", "bob", "")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestJoinRoomPasswordExactMatch(t *testing.T) {
	r, _ := newTestRegistry()
	r.CreateRoom("open", "alice", "")
	r.CreateRoom("locked", "alice", "secret")

	tests := []struct {
		name     string
		room     string
		password string
		wantErr  error
	}{
		{"empty matches empty", "open", "", nil},
		{"any password rejected by open room", "open", "guess", ErrWrongPassword},
		{"exact match", "locked", "secret", nil},
		{"wrong password", "locked", "Secret", ErrWrongPassword},
		{"empty against locked", "locked", "", ErrWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.JoinRoom(tt.room, "bob", tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokensUnique(t *testing.T) {
	r, _ := newTestRegistry()
	r.CreateRoom("lobby", "alice", "")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := r.JoinRoom("lobby", "bob", "")
		if err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestAuthenticateAndTouch(t *testing.T) {
	r, now := newTestRegistry()
	token, _ := r.CreateRoom("lobby", "alice", "")

	username, ok := r.AuthenticateAndTouch(token, "lobby", udpAddr("127.0.0.1", 40000), *now)
	if !ok || username != "alice" {
		t.Fatalf("auth = (%q, %v)", username, ok)
	}

	p := r.tokens[token].participant
	if p.Addr == nil || p.Addr.Port != 40000 {
		t.Fatalf("binding not recorded: %+v", p.Addr)
	}
}

func TestAuthenticateRejectsUnknownTokenAndWrongRoom(t *testing.T) {
	r, now := newTestRegistry()
	token, _ := r.CreateRoom("lobby", "alice", "")
	r.CreateRoom("other", "carol", "")

	if _, ok := r.AuthenticateAndTouch("bogus", "lobby", udpAddr("127.0.0.1", 1), *now); ok {
		t.Error("unknown token accepted")
	}
	if _, ok := r.AuthenticateAndTouch(token, "other", udpAddr("127.0.0.1", 1), *now); ok {
		t.Error("token accepted for a room it does not belong to")
	}
}

func TestAuthenticateBindingIsFirstWriterWins(t *testing.T) {
	r, now := newTestRegistry()
	token, _ := r.CreateRoom("lobby", "alice", "")

	if _, ok := r.AuthenticateAndTouch(token, "lobby", udpAddr("10.0.0.1", 40000), *now); !ok {
		t.Fatal("first frame rejected")
	}

	// Different IP is rejected
	if _, ok := r.AuthenticateAndTouch(token, "lobby", udpAddr("10.0.0.2", 40000), *now); ok {
		t.Error("frame from different IP accepted")
	}

	// Same IP, different port is tolerated but the binding stays put
	if _, ok := r.AuthenticateAndTouch(token, "lobby", udpAddr("10.0.0.1", 50000), *now); !ok {
		t.Error("frame from new port on bound IP rejected")
	}
	p := r.tokens[token].participant
	if p.Addr.Port != 40000 {
		t.Errorf("bound port = %d, want 40000", p.Addr.Port)
	}
}

func TestAuthenticateTouchesLiveness(t *testing.T) {
	r, now := newTestRegistry()
	token, _ := r.CreateRoom("lobby", "alice", "")

	later := now.Add(42 * time.Second)
	r.AuthenticateAndTouch(token, "lobby", udpAddr("127.0.0.1", 1), later)

	p := r.tokens[token].participant
	if !p.LastActiveAt.Equal(later) {
		t.Errorf("LastActiveAt = %v, want %v", p.LastActiveAt, later)
	}
}

func TestParticipantsOf(t *testing.T) {
	r, now := newTestRegistry()
	hostToken, _ := r.CreateRoom("lobby", "alice", "")
	joinToken, _ := r.JoinRoom("lobby", "bob", "")
	r.AuthenticateAndTouch(hostToken, "lobby", udpAddr("127.0.0.1", 40000), *now)

	recipients := r.ParticipantsOf("lobby")
	if len(recipients) != 2 {
		t.Fatalf("recipients = %d, want 2", len(recipients))
	}

	byToken := make(map[string]Recipient)
	for _, rcpt := range recipients {
		byToken[rcpt.Token] = rcpt
	}
	if byToken[hostToken].Addr == nil {
		t.Error("bound participant has nil addr")
	}
	if byToken[joinToken].Addr != nil {
		t.Error("unbound participant has non-nil addr")
	}

	if got := r.ParticipantsOf("nowhere"); got != nil {
		t.Errorf("unknown room recipients = %v, want nil", got)
	}
}

func TestSweepEvictsIdleParticipants(t *testing.T) {
	r, now := newTestRegistry()
	hostToken, _ := r.CreateRoom("lobby", "alice", "")
	joinToken, _ := r.JoinRoom("lobby", "bob", "")

	// Keep the host fresh, let bob go idle
	later := now.Add(90 * time.Second)
	r.AuthenticateAndTouch(hostToken, "lobby", udpAddr("127.0.0.1", 1), later)

	res := r.Sweep(later, 60*time.Second)
	if len(res.Evicted) != 1 || res.Evicted[0].Token != joinToken || res.Evicted[0].Username != "bob" {
		t.Fatalf("evicted = %+v", res.Evicted)
	}
	if len(res.Closed) != 0 {
		t.Fatalf("closed = %+v, want none", res.Closed)
	}

	if _, ok := r.tokens[joinToken]; ok {
		t.Error("evicted token still in index")
	}
	if room := r.rooms["lobby"]; room == nil || len(room.Participants) != 1 {
		t.Error("room state after eviction wrong")
	}
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	r, now := newTestRegistry()
	r.CreateRoom("lobby", "alice", "")

	// Exactly at the deadline is not yet idle
	res := r.Sweep(now.Add(60*time.Second), 60*time.Second)
	if len(res.Evicted) != 0 || len(res.Closed) != 0 {
		t.Errorf("sweep at exact deadline removed: %+v", res)
	}
}

func TestSweepHostTimeoutClosesRoomSameSweep(t *testing.T) {
	r, now := newTestRegistry()
	hostToken, _ := r.CreateRoom("lobby", "alice", "")
	joinToken, _ := r.JoinRoom("lobby", "bob", "")

	// Only bob stays fresh
	later := now.Add(90 * time.Second)
	r.AuthenticateAndTouch(joinToken, "lobby", udpAddr("127.0.0.1", 1), later)

	res := r.Sweep(later, 60*time.Second)
	if len(res.Closed) != 1 || res.Closed[0].Name != "lobby" {
		t.Fatalf("closed = %+v", res.Closed)
	}
	// Bob was fresh but the room closed under him in the same sweep
	if res.Closed[0].Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Closed[0].Dropped)
	}

	if _, ok := r.rooms["lobby"]; ok {
		t.Error("closed room still present")
	}
	for _, token := range []string{hostToken, joinToken} {
		if _, ok := r.tokens[token]; ok {
			t.Errorf("token %q still in index after close", token)
		}
	}
}

func TestRoomNameReusableAfterClose(t *testing.T) {
	r, now := newTestRegistry()
	r.CreateRoom("lobby", "alice", "")
	r.Sweep(now.Add(90*time.Second), 60*time.Second)

	if _, err := r.CreateRoom("lobby", "carol", ""); err != nil {
		t.Errorf("CreateRoom after close: %v", err)
	}
}

func TestCloseRoom(t *testing.T) {
	r, _ := newTestRegistry()
	r.CreateRoom("lobby", "alice", "")
	r.JoinRoom("lobby", "bob", "")

	dropped, ok := r.CloseRoom("lobby")
	if !ok || dropped != 2 {
		t.Errorf("CloseRoom = (%d, %v), want (2, true)", dropped, ok)
	}

	if _, ok := r.CloseRoom("lobby"); ok {
		t.Error("closing a closed room succeeded")
	}
	if _, ok := r.CloseRoom("nowhere"); ok {
		t.Error("closing an unknown room succeeded")
	}
}

func TestStaleTokenRejectedAfterEviction(t *testing.T) {
	r, now := newTestRegistry()
	hostToken, _ := r.CreateRoom("lobby", "alice", "")
	joinToken, _ := r.JoinRoom("lobby", "bob", "")

	later := now.Add(90 * time.Second)
	r.AuthenticateAndTouch(hostToken, "lobby", udpAddr("127.0.0.1", 1), later)
	r.Sweep(later, 60*time.Second)

	if _, ok := r.AuthenticateAndTouch(joinToken, "lobby", udpAddr("127.0.0.1", 1), later); ok {
		t.Error("evicted token still authenticates")
	}
}

func TestSnapshotOmitsTokens(t *testing.T) {
	r, now := newTestRegistry()
	token, _ := r.CreateRoom("lobby", "alice", "pw")
	r.JoinRoom("lobby", "bob", "pw")
	r.AuthenticateAndTouch(token, "lobby", udpAddr("127.0.0.1", 40000), *now)

	snapshot := r.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("rooms = %d, want 1", len(snapshot))
	}

	room := snapshot[0]
	if room.Name != "lobby" || !room.HasPassword || room.HostUsername != "alice" {
		t.Errorf("room info = %+v", room)
	}
	if len(room.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(room.Participants))
	}
	for _, p := range room.Participants {
		if p.Username == "alice" && (!p.IsHost || !p.Bound) {
			t.Errorf("host info = %+v", p)
		}
		if p.Username == "bob" && (p.IsHost || p.Bound || p.Address != "") {
			t.Errorf("joiner info = %+v", p)
		}
	}
}

func TestCounts(t *testing.T) {
	r, _ := newTestRegistry()
	r.CreateRoom("a", "alice", "")
	r.CreateRoom("b", "bob", "")
	r.JoinRoom("a", "carol", "")

	rooms, participants := r.Counts()
	if rooms != 2 || participants != 3 {
		t.Errorf("Counts = (%d, %d), want (2, 3)", rooms, participants)
	}
}
