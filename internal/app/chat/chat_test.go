package chat

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/protocol"
)

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory Conn. Frames pushed to inbound are read by the participant;
// text frames the participant writes appear on writes.
type fakeConn struct {
	inbound   chan []byte
	writes    chan []byte
	writeErr  error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame, ok := <-c.inbound:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		c.writes <- data
	}
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func mustEncode(t *testing.T, event protocol.Event) []byte {
	t.Helper()
	frame, err := protocol.Encode(event)
	if err != nil {
		t.Fatalf("Encode(%#v): %v", event, err)
	}
	return frame
}

// queued pops the next frame queued for p without a running writePump.
func queued(t *testing.T, p *Participant) protocol.ServerEvent {
	t.Helper()
	select {
	case frame := <-p.send:
		event, err := protocol.DecodeServerEvent(frame)
		if err != nil {
			t.Fatalf("DecodeServerEvent: %v", err)
		}
		return event
	default:
		t.Fatalf("participant %s has nothing queued", p.ID())
		return nil
	}
}

func assertNothingQueued(t *testing.T, p *Participant) {
	t.Helper()
	if n := len(p.send); n != 0 {
		t.Fatalf("participant %s has %d unexpected frames queued", p.ID(), n)
	}
}

func written(t *testing.T, c *fakeConn) protocol.ServerEvent {
	t.Helper()
	select {
	case frame := <-c.writes:
		event, err := protocol.DecodeServerEvent(frame)
		if err != nil {
			t.Fatalf("DecodeServerEvent: %v", err)
		}
		return event
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func newTestParticipant() (*Participant, *fakeConn) {
	conn := newFakeConn()
	return NewParticipant(protocol.NewIdentifier(), conn, nil), conn
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a, _ := newTestParticipant()
	b, _ := newTestParticipant()

	r.Register(a)
	r.Register(b)
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	if !r.Unregister(a.ID()) {
		t.Fatal("first Unregister reported nothing removed")
	}
	if r.Unregister(a.ID()) {
		t.Fatal("second Unregister reported a removal")
	}

	snapshot := r.Snapshot()
	if len(snapshot) != 1 || snapshot[0] != b {
		t.Fatalf("Snapshot() = %v, want only b", snapshot)
	}
}

func TestRegistryRegisterReplacesStaleEntry(t *testing.T) {
	r := NewRegistry()
	id := protocol.NewIdentifier()
	stale := NewParticipant(id, newFakeConn(), nil)
	fresh := NewParticipant(id, newFakeConn(), nil)

	r.Register(stale)
	r.Register(fresh)

	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if snapshot := r.Snapshot(); len(snapshot) != 1 || snapshot[0] != fresh {
		t.Fatal("expected the newer participant to win")
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p, _ := newTestParticipant()
				r.Register(p)
				_ = r.Snapshot()
				r.Broadcast(protocol.UserJoined{ID: p.ID(), Name: "x"})
				r.Unregister(p.ID())
			}
		}()
	}
	wg.Wait()

	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestJoinBroadcastsToEveryoneIncludingSender(t *testing.T) {
	r := NewRegistry()
	sender, _ := newTestParticipant()
	other, _ := newTestParticipant()
	r.Register(sender)
	r.Register(other)

	sender.HandleEvent(protocol.Join{Name: "Rex"}, r)

	want := protocol.UserJoined{ID: sender.ID(), Name: "Rex"}
	for _, p := range []*Participant{sender, other} {
		if got := queued(t, p); got != want {
			t.Fatalf("participant %s got %#v, want %#v", p.ID(), got, want)
		}
	}

	if name, named := sender.Name(); !named || name != "Rex" {
		t.Fatalf("Name() = %q, %v", name, named)
	}
}

func TestSecondJoinRenames(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestParticipant()
	r.Register(p)

	p.HandleEvent(protocol.Join{Name: "Rex"}, r)
	p.HandleEvent(protocol.Join{Name: "Max"}, r)
	queued(t, p)

	if got := queued(t, p); got != (protocol.UserJoined{ID: p.ID(), Name: "Max"}) {
		t.Fatalf("second broadcast = %#v", got)
	}
	if name, _ := p.Name(); name != "Max" {
		t.Fatalf("Name() = %q, want Max", name)
	}
}

func TestSendMessageAfterJoin(t *testing.T) {
	r := NewRegistry()
	sender, _ := newTestParticipant()
	other, _ := newTestParticipant()
	r.Register(sender)
	r.Register(other)

	sender.HandleEvent(protocol.Join{Name: "Rex"}, r)
	queued(t, sender)
	queued(t, other)

	sender.HandleEvent(protocol.SendMessage{Text: "woof"}, r)

	want := protocol.MessageReceived{ID: sender.ID(), Name: "Rex", Text: "woof"}
	for _, p := range []*Participant{sender, other} {
		if got := queued(t, p); got != want {
			t.Fatalf("participant %s got %#v, want %#v", p.ID(), got, want)
		}
	}
}

func TestSendMessageBeforeJoinHasEmptyName(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestParticipant()
	r.Register(p)

	p.HandleEvent(protocol.SendMessage{Text: "anyone?"}, r)

	if got := queued(t, p); got != (protocol.MessageReceived{ID: p.ID(), Text: "anyone?"}) {
		t.Fatalf("broadcast = %#v", got)
	}
}

func TestInvalidAndUnknownEventsAreDropped(t *testing.T) {
	r := NewRegistry()
	p, _ := newTestParticipant()
	r.Register(p)

	p.HandleEvent(protocol.Unknown{Kind: "TYPING"}, r)
	p.HandleEvent(protocol.Join{Name: "   "}, r)
	p.HandleEvent(protocol.SendMessage{Text: ""}, r)

	assertNothingQueued(t, p)
	if _, named := p.Name(); named {
		t.Fatal("a blank JOIN must not name the participant")
	}
}

func TestBroadcastSkipsBrokenRecipient(t *testing.T) {
	r := NewRegistry()
	healthy := make([]*Participant, 0, 3)
	for i := 0; i < 3; i++ {
		p, _ := newTestParticipant()
		r.Register(p)
		healthy = append(healthy, p)
	}
	broken, _ := newTestParticipant()
	r.Register(broken)
	broken.Close()

	id := protocol.NewIdentifier()
	delivered := r.Broadcast(protocol.MessageReceived{ID: id, Name: "Rex", Text: "woof"})

	if delivered != len(healthy) {
		t.Fatalf("delivered = %d, want %d", delivered, len(healthy))
	}
	for _, p := range healthy {
		if got := queued(t, p); got != (protocol.MessageReceived{ID: id, Name: "Rex", Text: "woof"}) {
			t.Fatalf("participant %s got %#v", p.ID(), got)
		}
	}
}

func TestDeliverOnClosedParticipantFails(t *testing.T) {
	p, conn := newTestParticipant()
	p.Close()
	p.Close()

	if err := p.Deliver([]byte("{}")); !errs.IsCode(err, errs.ErrConnectionFailed) {
		t.Fatalf("Deliver error = %v, want ErrConnectionFailed", err)
	}
	if !conn.isClosed() {
		t.Fatal("Close did not close the connection")
	}
}

func TestDeliverOnFullQueueClosesParticipant(t *testing.T) {
	p, _ := newTestParticipant()
	for i := 0; i < sendQueueSize; i++ {
		if err := p.Deliver([]byte("{}")); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	if err := p.Deliver([]byte("{}")); !errs.IsCode(err, errs.ErrConnectionFailed) {
		t.Fatalf("Deliver error = %v, want ErrConnectionFailed", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("a participant with a full queue must be closed")
	}
}

// dialStalledPeer returns the server side of a real WebSocket whose client never reads.
func dialStalledPeer(t *testing.T) *websocket.Conn {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-accepted:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the upgrade")
		return nil
	}
}

func TestDeliverDoesNotWaitOnStalledRecipient(t *testing.T) {
	p := NewParticipant(protocol.NewIdentifier(), dialStalledPeer(t), nil)
	go p.writePump()
	t.Cleanup(p.Close)

	frame := bytes.Repeat([]byte("x"), 64<<10)
	for i := 0; i < 10000; i++ {
		start := time.Now()
		err := p.Deliver(frame)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Fatalf("Deliver #%d blocked the caller for %s", i, elapsed)
		}
		if err == nil {
			continue
		}

		if !errs.IsCode(err, errs.ErrConnectionFailed) {
			t.Fatalf("Deliver error = %v, want ErrConnectionFailed", err)
		}
		select {
		case <-p.Done():
		default:
			t.Fatal("a stalled participant must be closed once its queue is full")
		}
		return
	}
	t.Fatal("Deliver never reported the stalled recipient")
}

func TestRateLimitedEventsAreDropped(t *testing.T) {
	r := NewRegistry()
	p := NewParticipant(protocol.NewIdentifier(), newFakeConn(), rate.NewLimiter(rate.Every(time.Hour), 1))
	r.Register(p)

	p.HandleEvent(protocol.Join{Name: "Rex"}, r)
	p.HandleEvent(protocol.SendMessage{Text: "spam"}, r)

	queued(t, p)
	assertNothingQueued(t, p)
}

func serveAsync(h *Hub, conn Conn) <-chan error {
	result := make(chan error, 1)
	go func() { result <- h.Serve(conn) }()
	return result
}

func waitForLen(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for h.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d, want %d", h.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubServeRunsConnectionAndUnregisters(t *testing.T) {
	h := NewHub(HubConfig{})
	t.Cleanup(func() { h.Shutdown(context.Background()) })

	a, b := newFakeConn(), newFakeConn()
	doneA := serveAsync(h, a)
	doneB := serveAsync(h, b)
	waitForLen(t, h, 2)

	a.inbound <- mustEncode(t, protocol.Join{Name: "Rex"})

	for _, c := range []*fakeConn{a, b} {
		got, ok := written(t, c).(protocol.UserJoined)
		if !ok || got.Name != "Rex" {
			t.Fatalf("got %#v, want UserJoined Rex", got)
		}
	}

	close(a.inbound)
	if err := <-doneA; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	waitForLen(t, h, 1)
	if !a.isClosed() {
		t.Fatal("connection was not closed after its loop ended")
	}

	close(b.inbound)
	<-doneB
	waitForLen(t, h, 0)
}

func TestHubProcessesEventsInArrivalOrder(t *testing.T) {
	h := NewHub(HubConfig{})
	t.Cleanup(func() { h.Shutdown(context.Background()) })

	conn := newFakeConn()
	serveAsync(h, conn)
	waitForLen(t, h, 1)

	conn.inbound <- mustEncode(t, protocol.Join{Name: "Rex"})
	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		conn.inbound <- mustEncode(t, protocol.SendMessage{Text: text})
	}

	if _, ok := written(t, conn).(protocol.UserJoined); !ok {
		t.Fatal("expected UserJoined first")
	}
	for _, text := range texts {
		got, ok := written(t, conn).(protocol.MessageReceived)
		if !ok || got.Text != text {
			t.Fatalf("got %#v, want text %q", got, text)
		}
	}
}

func TestHubUnregistersBrokenTransport(t *testing.T) {
	h := NewHub(HubConfig{})
	t.Cleanup(func() { h.Shutdown(context.Background()) })

	healthy, broken := newFakeConn(), newFakeConn()
	broken.writeErr = errors.New("broken pipe")
	serveAsync(h, healthy)
	brokenDone := serveAsync(h, broken)
	waitForLen(t, h, 2)

	healthy.inbound <- mustEncode(t, protocol.Join{Name: "Rex"})

	if got, ok := written(t, healthy).(protocol.UserJoined); !ok || got.Name != "Rex" {
		t.Fatalf("healthy participant got %#v", got)
	}

	select {
	case <-brokenDone:
	case <-time.After(waitTimeout):
		t.Fatal("broken participant's loop did not exit")
	}
	waitForLen(t, h, 1)
}

func TestHubShutdownClosesConnections(t *testing.T) {
	h := NewHub(HubConfig{})

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	results := make([]<-chan error, 0, len(conns))
	for _, c := range conns {
		results = append(results, serveAsync(h, c))
	}
	waitForLen(t, h, len(conns))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for i, result := range results {
		if err := <-result; err != nil {
			t.Fatalf("Serve %d: %v", i, err)
		}
		if !conns[i].isClosed() {
			t.Fatalf("connection %d left open", i)
		}
	}
	if got := h.Len(); got != 0 {
		t.Fatalf("Len() = %d after shutdown", got)
	}

	late := newFakeConn()
	if err := h.Serve(late); !errs.IsCode(err, errs.ErrObjectDisposed) {
		t.Fatalf("Serve after shutdown error = %v, want ErrObjectDisposed", err)
	}
	if !late.isClosed() {
		t.Fatal("connection offered after shutdown was not closed")
	}
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
