package core

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/store/memory"
)

func newTestHandler(t *testing.T, requireAuth bool) (*Handler, *Registry, *fakeConns) {
	t.Helper()
	reg := NewRegistry()
	conns := newFakeConns()
	st := memory.NewWithDefaults()
	sessions := NewSessionManager(reg, st, zerolog.Nop())
	router := NewRouter(reg, st, conns, zerolog.Nop())
	h := NewHandler(sessions, router, reg, st, conns, requireAuth, zerolog.Nop())
	return h, reg, conns
}

// lastReply parses the most recent frame written to handle.
func lastReply(t *testing.T, conns *fakeConns, handle int) *proto.Record {
	t.Helper()
	frames := conns.sent(handle)
	if len(frames) == 0 {
		t.Fatalf("no frames written to handle %d", handle)
	}
	rec, err := proto.Parse(frames[len(frames)-1])
	if err != nil {
		t.Fatalf("reply does not parse: %v (%q)", err, frames[len(frames)-1])
	}
	return rec
}

func login(t *testing.T, h *Handler, reg *Registry, handle int, user, pw string) {
	t.Helper()
	reg.Add(handle, "10.0.0.1", 50000+handle)
	h.HandleFrame(context.Background(), handle, "LOGIN|"+user+"|server||"+pw+"\n")
}

func TestLoginRoundTrip(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)

	login(t, h, reg, 1, "alice", "alice123")

	rec := lastReply(t, conns, 1)
	if rec.Type != proto.TypeOK || rec.Content != "0|Login successful" {
		t.Fatalf("unexpected login reply: %+v", rec)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)

	login(t, h, reg, 1, "alice", "wrong")

	rec := lastReply(t, conns, 1)
	if rec.Type != proto.TypeError || rec.Content != "1001|Invalid username or password" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestLoginMissingCredential(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	reg.Add(1, "10.0.0.1", 50001)

	h.HandleFrame(context.Background(), 1, "LOGIN|alice|server||\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1001|Missing username or password" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestLoginNotifiesOthers(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)

	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	// Alice should have seen "bob is now online"; bob should not.
	var sawPresence bool
	for _, f := range conns.sent(1) {
		if strings.Contains(f, "bob is now online") {
			sawPresence = true
		}
	}
	if !sawPresence {
		t.Fatal("alice should be told bob came online")
	}
	for _, f := range conns.sent(2) {
		if strings.Contains(f, "bob is now online") {
			t.Fatal("bob must not receive his own presence notice")
		}
	}
}

func TestUnauthenticatedMessageRejected(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	reg.Add(1, "10.0.0.1", 50001)

	h.HandleFrame(context.Background(), 1, "MSG|alice|bob||hi\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1001|Please login first" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestRequireAuthDisabledSkipsGate(t *testing.T) {
	h, reg, conns := newTestHandler(t, false)
	reg.Add(1, "10.0.0.1", 50001)
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, "MSG|alice|bob||hi\n")

	rec := lastReply(t, conns, 1)
	if rec.Type != proto.TypeOK {
		t.Fatalf("open mode should route without login, got %+v", rec)
	}
	if got := conns.sent(2); len(got) == 0 || !strings.HasPrefix(got[len(got)-1], "MSG|alice|bob|") {
		t.Fatalf("bob should receive the message, got %v", got)
	}
}

func TestPrivateMessageDelivery(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, "MSG|alice|bob||hello bob\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "0|Message sent successfully" {
		t.Fatalf("unexpected sender reply: %+v", rec)
	}

	delivered := lastReply(t, conns, 2)
	if delivered.Type != proto.TypeMsg || delivered.Sender != "alice" || delivered.Content != "hello bob" {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}
	if delivered.Timestamp == "" {
		t.Fatal("empty client timestamp must be synthesized before delivery")
	}
}

func TestMessageToOfflineUser(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")

	h.HandleFrame(context.Background(), 1, "MSG|alice|bob||hi\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1003|User is offline" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestMessageToUnknownUser(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")

	h.HandleFrame(context.Background(), 1, "MSG|alice|mallory||hi\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1002|User not found" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestSenderSpoofingBlocked(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	// Alice claims to be bob.
	h.HandleFrame(context.Background(), 1, "MSG|bob|bob||gotcha\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1001|Sender mismatch" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
	for _, f := range conns.sent(2) {
		if strings.Contains(f, "gotcha") {
			t.Fatal("spoofed message must not be delivered")
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")
	login(t, h, reg, 3, "charlie", "charlie123")

	h.HandleFrame(context.Background(), 1, "BROADCAST|alice|*||hello everyone\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "0|Broadcast sent successfully" {
		t.Fatalf("unexpected sender reply: %+v", rec)
	}
	for _, handle := range []int{2, 3} {
		got := lastReply(t, conns, handle)
		if got.Type != proto.TypeBroadcast || got.Content != "hello everyone" {
			t.Fatalf("handle %d: unexpected broadcast %+v", handle, got)
		}
	}
	for _, f := range conns.sent(1) {
		if strings.HasPrefix(f, "BROADCAST|alice|") {
			t.Fatal("sender must not receive their own broadcast")
		}
	}
}

func TestEscapedContentRoundTrip(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, `MSG|alice|bob||pipe \| back \\ nl \n end`+"\n")

	delivered := lastReply(t, conns, 2)
	if delivered.Content != "pipe | back \\ nl \n end" {
		t.Fatalf("escapes must survive end to end, got %q", delivered.Content)
	}
}

func TestLogoutFlow(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, "LOGOUT|alice|server||\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "0|Logout successful" {
		t.Fatalf("unexpected reply: %+v", rec)
	}

	offline := lastReply(t, conns, 2)
	if offline.Content != "alice is now offline" {
		t.Fatalf("bob should see the offline notice, got %+v", offline)
	}

	// Alice's messages are now gated again.
	h.HandleFrame(context.Background(), 1, "MSG|alice|bob||still here?\n")
	if rec := lastReply(t, conns, 1); rec.Content != "1001|Please login first" {
		t.Fatalf("post-logout message should be rejected, got %+v", rec)
	}
}

func TestLogoutWithoutLogin(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	reg.Add(1, "10.0.0.1", 50001)

	h.HandleFrame(context.Background(), 1, "LOGOUT|alice|server||\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "1001|Please login first" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestMalformedFrame(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	reg.Add(1, "10.0.0.1", 50001)

	h.HandleFrame(context.Background(), 1, "not a valid frame\n")

	rec := lastReply(t, conns, 1)
	if rec.Type != proto.TypeError || rec.Content != "5000|Failed to parse message" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestGroupNotImplemented(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")

	h.HandleFrame(context.Background(), 1, "GROUP|alice|group:devs||standup\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "5000|Group feature not implemented yet" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestHistoryNotImplemented(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")

	h.HandleFrame(context.Background(), 1, "HISTORY|alice|server||bob|2025-01-01|2025-02-01\n")

	rec := lastReply(t, conns, 1)
	if rec.Content != "5000|History feature not implemented yet" {
		t.Fatalf("unexpected reply: %+v", rec)
	}
}

func TestStatusReport(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, "STATUS|alice|server||\n")

	rec := lastReply(t, conns, 1)
	if rec.Type != proto.TypeOK {
		t.Fatalf("expected OK status, got %+v", rec)
	}
	for _, want := range []string{
		"Server Status:",
		"Connected clients: 2",
		"Online users: 2",
		"Total users: 4",
		"Your status: Online",
	} {
		if !strings.Contains(rec.Content, want) {
			t.Fatalf("status missing %q:\n%s", want, rec.Content)
		}
	}
}

func TestClientResponsesAreConsumedSilently(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	before := len(conns.sent(1))

	h.HandleFrame(context.Background(), 1, "OK|server|client||0|Login successful\n")
	h.HandleFrame(context.Background(), 1, "ERROR|server|client||5000|oops\n")

	if got := len(conns.sent(1)); got != before {
		t.Fatalf("client responses must not trigger replies, got %d new frames", got-before)
	}
}

// A client that sends LOGOUT and then closes its socket must produce
// exactly one offline notice.
func TestDisconnectAfterLogoutNoDuplicateNotice(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleFrame(context.Background(), 1, "LOGOUT|alice|server||\n")
	h.HandleDisconnect(1)

	notices := 0
	for _, f := range conns.sent(2) {
		if strings.Contains(f, "alice is now offline") {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("expected exactly one offline notice, got %d", notices)
	}
}

func TestDisconnectNotifiesOthers(t *testing.T) {
	h, reg, conns := newTestHandler(t, true)
	login(t, h, reg, 1, "alice", "alice123")
	login(t, h, reg, 2, "bob", "bob123")

	h.HandleDisconnect(1)

	if _, ok := reg.FindByHandle(1); ok {
		t.Fatal("disconnect must remove the registry entry")
	}
	offline := lastReply(t, conns, 2)
	if offline.Content != "alice is now offline" {
		t.Fatalf("bob should see the implicit logout, got %+v", offline)
	}
}
