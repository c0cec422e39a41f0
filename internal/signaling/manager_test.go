package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hr-realtime/internal/domain/call"
	"hr-realtime/internal/events"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"github.com/pion/webrtc/v4"
)

const audioSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const videoSDP = audioSDP +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func offer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: audioSDP}
}

type fakeSender struct {
	mu    sync.Mutex
	users map[string][]string // user -> connections
	sent  map[string][]events.Envelope
	gone  map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		users: map[string][]string{
			"u1": {"c1"},
			"u2": {"c2", "c2b"},
		},
		sent: make(map[string][]events.Envelope),
		gone: make(map[string]bool),
	}
}

func (f *fakeSender) SendToUser(userID string, env events.Envelope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.users[userID] {
		if f.gone[c] {
			continue
		}
		f.sent[c] = append(f.sent[c], env)
		n++
	}
	return n
}

func (f *fakeSender) SendToUserExcept(userID, except string, env events.Envelope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.users[userID] {
		if c == except || f.gone[c] {
			continue
		}
		f.sent[c] = append(f.sent[c], env)
		n++
	}
	return n
}

func (f *fakeSender) SendToConnection(connID string, env events.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[connID] {
		return false
	}
	f.sent[connID] = append(f.sent[connID], env)
	return true
}

func (f *fakeSender) Connected(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.gone[connID]
}

func (f *fakeSender) disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone[connID] = true
}

func (f *fakeSender) received(connID string) []events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Envelope(nil), f.sent[connID]...)
}

func (f *fakeSender) names(connID string) []string {
	var out []string
	for _, env := range f.received(connID) {
		out = append(out, env.Event)
	}
	return out
}

type fakePresence struct {
	mu    sync.Mutex
	calls map[string]map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{calls: make(map[string]map[string]bool)}
}

func (p *fakePresence) JoinCall(_ context.Context, userID, callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls[userID] == nil {
		p.calls[userID] = make(map[string]bool)
	}
	p.calls[userID][callID] = true
}

func (p *fakePresence) LeaveCall(_ context.Context, userID, callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls[userID], callID)
}

func (p *fakePresence) inCall(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls[userID]) > 0
}

func newTestManager(ring time.Duration) (*Manager, *fakeSender, *fakePresence) {
	sender := newFakeSender()
	presence := newFakePresence()
	return NewManager(sender, presence, ring, logger.NewNop()), sender, presence
}

func initiate(t *testing.T, m *Manager) call.Session {
	t.Helper()
	s, err := m.Initiate(context.Background(), InitiateRequest{
		CallerID:     "u1",
		CallerConnID: "c1",
		CallerName:   "Ana",
		CalleeID:     "u2",
		Offer:        offer(audioSDP),
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	return s
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestInitiateRingsEveryCalleeConnection(t *testing.T) {
	m, sender, presence := newTestManager(time.Minute)
	s := initiate(t, m)

	if s.State != call.StateRinging {
		t.Errorf("State = %q, want ringing", s.State)
	}
	if s.MediaKind != call.MediaAudio {
		t.Errorf("MediaKind = %q, want audio", s.MediaKind)
	}
	for _, c := range []string{"c2", "c2b"} {
		got := sender.received(c)
		if len(got) != 1 || got[0].Event != events.EventCallIncoming {
			t.Fatalf("%s got %v, want call_incoming", c, sender.names(c))
		}
		var p events.CallIncomingPayload
		if err := got[0].Decode(&p); err != nil {
			t.Fatal(err)
		}
		if p.CallID != s.ID || p.From != "u1" || p.CallerName != "Ana" || p.Type != "audio" {
			t.Errorf("payload = %+v", p)
		}
	}
	if !presence.inCall("u1") {
		t.Error("caller not marked in-call")
	}
	if presence.inCall("u2") {
		t.Error("callee marked in-call before answer")
	}
}

func TestInitiateInfersVideo(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	s, err := m.Initiate(context.Background(), InitiateRequest{
		CallerID: "u1", CallerConnID: "c1", CalleeID: "u2", Offer: offer(videoSDP),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.MediaKind != call.MediaVideo {
		t.Errorf("MediaKind = %q, want video", s.MediaKind)
	}
}

func TestInitiateValidation(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	ctx := context.Background()

	tests := []struct {
		name string
		req  InitiateRequest
	}{
		{"self call", InitiateRequest{CallerID: "u1", CalleeID: "u1", Offer: offer(audioSDP)}},
		{"missing callee", InitiateRequest{CallerID: "u1", Offer: offer(audioSDP)}},
		{"empty sdp", InitiateRequest{CallerID: "u1", CalleeID: "u2", Offer: offer("")}},
		{"garbage sdp", InitiateRequest{CallerID: "u1", CalleeID: "u2", Offer: offer("hello")}},
		{"answer type", InitiateRequest{CallerID: "u1", CalleeID: "u2", Offer: answer()}},
		{"bad media", InitiateRequest{CallerID: "u1", CalleeID: "u2", Offer: offer(audioSDP), MediaKind: "screen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Initiate(ctx, tt.req); !errors.Is(err, rt_errors.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if m.Live() != 0 {
		t.Errorf("Live() = %d after rejected requests", m.Live())
	}
}

func TestOnePendingCallPerPair(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	ctx := context.Background()
	first := initiate(t, m)

	_, err := m.Initiate(ctx, InitiateRequest{CallerID: "u1", CallerConnID: "c1", CalleeID: "u2", Offer: offer(audioSDP)})
	if !errors.Is(err, rt_errors.ErrCallInFlight) {
		t.Fatalf("second call err = %v, want ErrCallInFlight", err)
	}
	_, err = m.Initiate(ctx, InitiateRequest{CallerID: "u2", CallerConnID: "c2", CalleeID: "u1", Offer: offer(audioSDP)})
	if !errors.Is(err, rt_errors.ErrCallInFlight) {
		t.Fatalf("reverse call err = %v, want ErrCallInFlight", err)
	}

	if err := m.End(ctx, first.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Initiate(ctx, InitiateRequest{CallerID: "u1", CallerConnID: "c1", CalleeID: "u2", Offer: offer(audioSDP)}); err != nil {
		t.Errorf("call after end err = %v", err)
	}
}

func TestConcurrentInitiateSinglePair(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Initiate(ctx, InitiateRequest{CallerID: "u1", CallerConnID: "c1", CalleeID: "u2", Offer: offer(audioSDP)})
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if okCount != 1 {
		t.Errorf("%d calls started, want 1", okCount)
	}
}

// An unanswered call ends with reason timeout for every device.
func TestRingTimeout(t *testing.T) {
	m, sender, presence := newTestManager(20 * time.Millisecond)
	s := initiate(t, m)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := m.Get(s.ID)
		if got.State == call.StateEnded {
			if got.EndReason != call.ReasonTimeout {
				t.Fatalf("EndReason = %q, want timeout", got.EndReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("call did not time out")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, c := range []string{"c1", "c2", "c2b"} {
		evs := sender.received(c)
		last := evs[len(evs)-1]
		var p events.CallEndedPayload
		if last.Event != events.EventCallEnded || last.Decode(&p) != nil || p.Reason != "timeout" {
			t.Errorf("%s last event = %s %+v, want call_ended timeout", c, last.Event, p)
		}
	}
	if presence.inCall("u1") || presence.inCall("u2") {
		t.Error("in-call markers left after timeout")
	}
	if m.Live() != 0 {
		t.Errorf("Live() = %d, want 0", m.Live())
	}
}

func TestAnswerStopsRingTimer(t *testing.T) {
	m, _, _ := newTestManager(30 * time.Millisecond)
	ctx := context.Background()
	s := initiate(t, m)

	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	got, _ := m.Get(s.ID)
	if got.State != call.StateActive {
		t.Errorf("State = %q after ring window, want active", got.State)
	}
}

// Candidates sent before answer are delivered after
// call_answered, in order, and later ones pass straight through.
func TestCandidatesBufferedUntilAnswer(t *testing.T) {
	m, sender, presence := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)

	for _, c := range []string{"cand-1", "cand-2", "cand-3"} {
		if err := m.RelayCandidate(ctx, s.ID, "u1", candidate(c)); err != nil {
			t.Fatalf("RelayCandidate(%s) = %v", c, err)
		}
	}
	got, _ := m.Get(s.ID)
	if len(got.PendingCandidates) != 3 {
		t.Fatalf("PendingCandidates = %d, want 3", len(got.PendingCandidates))
	}
	for _, c := range []string{"c2", "c2b"} {
		if n := len(sender.received(c)); n != 1 {
			t.Fatalf("%s received %v before answer", c, sender.names(c))
		}
	}

	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	if err := m.RelayCandidate(ctx, s.ID, "u1", candidate("cand-4")); err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, env := range sender.received("c2")[1:] {
		if env.Event != events.EventICECandidate {
			t.Fatalf("unexpected %s on answering connection", env.Event)
		}
		var p events.ICECandidatePayload
		if err := env.Decode(&p); err != nil {
			t.Fatal(err)
		}
		order = append(order, p.Candidate.Candidate)
	}
	want := []string{"cand-1", "cand-2", "cand-3", "cand-4"}
	if len(order) != len(want) {
		t.Fatalf("candidates = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", order, want)
		}
	}

	callerEvents := sender.names("c1")
	if len(callerEvents) != 1 || callerEvents[0] != events.EventCallAnswered {
		t.Errorf("caller events = %v, want [call_answered]", callerEvents)
	}

	other := sender.received("c2b")
	var p events.CallEndedPayload
	if last := other[len(other)-1]; last.Event != events.EventCallEnded || last.Decode(&p) != nil || p.Reason != "answered_elsewhere" {
		t.Errorf("other device last event = %s %+v, want answered_elsewhere", last.Event, p)
	}

	got, _ = m.Get(s.ID)
	if len(got.PendingCandidates) != 0 {
		t.Errorf("PendingCandidates after answer = %d", len(got.PendingCandidates))
	}
	if !presence.inCall("u2") {
		t.Error("callee not in-call after answer")
	}
}

func TestCalleeCandidatesReachCaller(t *testing.T) {
	m, sender, _ := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)
	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	if err := m.RelayCandidate(ctx, s.ID, "u2", candidate("callee-1")); err != nil {
		t.Fatal(err)
	}
	names := sender.names("c1")
	if len(names) != 2 || names[1] != events.EventICECandidate {
		t.Errorf("caller events = %v", names)
	}
	if err := m.RelayCandidate(ctx, s.ID, "u3", candidate("x")); !errors.Is(err, rt_errors.ErrUnauthorized) {
		t.Errorf("outsider candidate err = %v, want ErrUnauthorized", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	m, sender, presence := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)
	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}

	if err := m.End(ctx, s.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	first, _ := m.Get(s.ID)
	calleeEvents := len(sender.received("c2"))

	if err := m.End(ctx, s.ID, "u1"); err != nil {
		t.Fatalf("second End() = %v", err)
	}
	if err := m.End(ctx, s.ID, "u2"); err != nil {
		t.Fatalf("End() by peer after end = %v", err)
	}
	second, _ := m.Get(s.ID)

	if first.State != call.StateEnded || first.EndReason != call.ReasonHangup {
		t.Errorf("after End = %q/%q, want ended/hangup", first.State, first.EndReason)
	}
	if second.State != first.State || second.EndReason != first.EndReason || !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("second End changed state: %+v -> %+v", first, second)
	}
	if n := len(sender.received("c2")); n != calleeEvents {
		t.Errorf("second End emitted %d extra events", n-calleeEvents)
	}
	if presence.inCall("u1") || presence.inCall("u2") {
		t.Error("in-call markers left after end")
	}
}

func TestEndReasons(t *testing.T) {
	ctx := context.Background()

	m, sender, _ := newTestManager(time.Minute)
	s := initiate(t, m)
	if err := m.End(ctx, s.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(s.ID)
	if got.EndReason != call.ReasonRejected {
		t.Errorf("callee end before answer = %q, want rejected", got.EndReason)
	}
	evs := sender.received("c1")
	var p events.CallEndedPayload
	if len(evs) != 1 || evs[0].Decode(&p) != nil || p.Reason != "rejected" {
		t.Errorf("caller events = %v", sender.names("c1"))
	}

	m, _, _ = newTestManager(time.Minute)
	s = initiate(t, m)
	if err := m.End(ctx, s.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Get(s.ID)
	if got.EndReason != call.ReasonCancelled {
		t.Errorf("caller end before answer = %q, want cancelled", got.EndReason)
	}

	if err := m.End(ctx, s.ID, "u9"); !errors.Is(err, rt_errors.ErrUnauthorized) {
		t.Errorf("outsider End err = %v, want ErrUnauthorized", err)
	}
}

func TestStaleSignalsAreIgnored(t *testing.T) {
	m, sender, _ := newTestManager(time.Minute)
	ctx := context.Background()

	if err := m.Answer(ctx, "missing", "u2", "c2", answer()); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("Answer(missing) = %v, want ErrStaleReference", err)
	}
	if err := m.RelayCandidate(ctx, "missing", "u1", candidate("a")); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("RelayCandidate(missing) = %v, want ErrStaleReference", err)
	}
	if err := m.End(ctx, "missing", "u1"); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("End(missing) = %v, want ErrStaleReference", err)
	}

	s := initiate(t, m)
	if err := m.End(ctx, s.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	before := len(sender.received("c1"))
	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("late Answer = %v, want ErrStaleReference", err)
	}
	if err := m.RelayCandidate(ctx, s.ID, "u1", candidate("late")); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("late candidate = %v, want ErrStaleReference", err)
	}
	if n := len(sender.received("c1")); n != before {
		t.Errorf("stale signals emitted %d events", n-before)
	}
}

func TestAnswerByNonCallee(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	s := initiate(t, m)
	if err := m.Answer(context.Background(), s.ID, "u1", "c1", answer()); !errors.Is(err, rt_errors.ErrUnauthorized) {
		t.Errorf("Answer by caller = %v, want ErrUnauthorized", err)
	}
}

// A callee dropping mid-call ends the call for the caller.
func TestDisconnectEndsActiveCall(t *testing.T) {
	m, sender, presence := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)
	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}

	sender.disconnect("c2")
	if n := m.HandleDisconnect(ctx, "c2"); n != 1 {
		t.Fatalf("HandleDisconnect ended %d calls, want 1", n)
	}

	evs := sender.received("c1")
	last := evs[len(evs)-1]
	var p events.CallEndedPayload
	if last.Event != events.EventCallEnded || last.Decode(&p) != nil || p.Reason != "disconnected" || p.By != "u2" {
		t.Errorf("caller last event = %s %+v", last.Event, p)
	}
	if presence.inCall("u1") || presence.inCall("u2") {
		t.Error("in-call markers left after disconnect")
	}
	if _, ok := m.Between("u1", "u2"); ok {
		t.Error("Between found an ended call")
	}
	if n := m.HandleDisconnect(ctx, "c2"); n != 0 {
		t.Errorf("second HandleDisconnect ended %d", n)
	}
}

func TestUnansweredCalleeDisconnectKeepsRinging(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)

	if n := m.HandleDisconnect(ctx, "c2b"); n != 0 {
		t.Errorf("HandleDisconnect ended %d calls, want 0", n)
	}
	got, _ := m.Get(s.ID)
	if got.State != call.StateRinging {
		t.Errorf("State = %q, want ringing", got.State)
	}
}

func TestRingPendingOffersCallToLateConnection(t *testing.T) {
	m, sender, _ := newTestManager(time.Minute)
	ctx := context.Background()
	sender.users["u2"] = nil

	s := initiate(t, m)
	if s.State != call.StateCalling {
		t.Fatalf("State = %q with no callee connection, want calling", s.State)
	}

	sender.users["u2"] = []string{"c2"}
	if n := m.RingPending(ctx, "u2", "c2"); n != 1 {
		t.Fatalf("RingPending() = %d, want 1", n)
	}
	got := sender.received("c2")
	if len(got) != 1 || got[0].Event != events.EventCallIncoming {
		t.Fatalf("c2 got %v, want call_incoming", sender.names("c2"))
	}
	var p events.CallIncomingPayload
	if err := got[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.CallID != s.ID || p.From != "u1" || p.Offer.SDP != audioSDP {
		t.Errorf("payload = %+v", p)
	}
	if cur, _ := m.Get(s.ID); cur.State != call.StateRinging {
		t.Errorf("State = %q after late offer, want ringing", cur.State)
	}

	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatalf("Answer from late connection: %v", err)
	}
	if cur, _ := m.Get(s.ID); cur.State != call.StateActive {
		t.Errorf("State = %q, want active", cur.State)
	}
}

func TestRingPendingSkipsAnsweredAndOtherUsers(t *testing.T) {
	m, sender, _ := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)

	if n := m.RingPending(ctx, "u1", "c1b"); n != 0 {
		t.Errorf("RingPending for caller = %d, want 0", n)
	}
	if n := m.RingPending(ctx, "u2", "c2c"); n != 1 {
		t.Errorf("RingPending while ringing = %d, want 1", n)
	}
	if cur, _ := m.Get(s.ID); cur.State != call.StateRinging {
		t.Errorf("State = %q, want ringing", cur.State)
	}

	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	if n := m.RingPending(ctx, "u2", "c2d"); n != 0 {
		t.Errorf("RingPending after answer = %d, want 0", n)
	}
	if got := sender.received("c2d"); len(got) != 0 {
		t.Errorf("c2d got %v after answer", sender.names("c2d"))
	}
}

func TestBetweenAndResolve(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	s := initiate(t, m)

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		got, ok := m.Between(pair[0], pair[1])
		if !ok || got.ID != s.ID {
			t.Errorf("Between(%s, %s) = %v, %v", pair[0], pair[1], got.ID, ok)
		}
	}
	id, err := m.Resolve("", "u2", "u1")
	if err != nil || id != s.ID {
		t.Errorf("Resolve() = %q, %v", id, err)
	}
	if id, _ := m.Resolve("explicit", "u2", "u1"); id != "explicit" {
		t.Errorf("Resolve kept %q, want explicit id", id)
	}
	if _, err := m.Resolve("", "u1", "u3"); !errors.Is(err, rt_errors.ErrStaleReference) {
		t.Errorf("Resolve(no call) = %v, want ErrStaleReference", err)
	}
}

func TestMediaFailure(t *testing.T) {
	m, sender, _ := newTestManager(time.Minute)
	ctx := context.Background()
	s := initiate(t, m)
	if err := m.Answer(ctx, s.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	if err := m.MediaFailure(ctx, s.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(s.ID)
	if got.EndReason != call.ReasonMediaFailure {
		t.Errorf("EndReason = %q, want media_failure", got.EndReason)
	}
	names := sender.names("c1")
	if names[len(names)-1] != events.EventCallEnded {
		t.Errorf("caller events = %v", names)
	}
}

func TestSweep(t *testing.T) {
	m, sender, _ := newTestManager(time.Hour)
	ctx := context.Background()

	pending := initiate(t, m)
	if n := m.Sweep(ctx, time.Now().Add(2*time.Hour)); n != 1 {
		t.Fatalf("Sweep ended %d pending calls, want 1", n)
	}
	got, _ := m.Get(pending.ID)
	if got.EndReason != call.ReasonTimeout {
		t.Errorf("EndReason = %q, want timeout", got.EndReason)
	}

	active := initiate(t, m)
	if err := m.Answer(ctx, active.ID, "u2", "c2", answer()); err != nil {
		t.Fatal(err)
	}
	sender.disconnect("c1")
	if n := m.Sweep(ctx, time.Now()); n != 1 {
		t.Fatalf("Sweep ended %d orphaned calls, want 1", n)
	}
	got, _ = m.Get(active.ID)
	if got.EndReason != call.ReasonDisconnected {
		t.Errorf("EndReason = %q, want disconnected", got.EndReason)
	}

	m.Sweep(ctx, time.Now().Add(endedRetention+time.Minute))
	if _, ok := m.Get(pending.ID); ok {
		t.Error("ended call not forgotten after retention")
	}
}
