// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	chatGroupA ChatID = "120363000000000001@g.us"
	chatGroupB ChatID = "120363000000000002@g.us"
	chatGroupC ChatID = "120363000000000003@g.us"
	chatGroupD ChatID = "120363000000000004@g.us"
	chatAlice  ChatID = "15551234567@s.whatsapp.net"
)

// testChats is the chat list used by most tests. GroupC is not visible.
func testChats() ChatList {
	return ChatList{
		{ID: chatGroupA, Name: "GroupA", IsGroup: true},
		{ID: chatGroupB, Name: "GroupB", IsGroup: true},
		{ID: chatGroupD, Name: "GroupD", IsGroup: true},
		{ID: chatAlice, Name: "Alice"},
	}
}

// sendCall records a single SendText or SendMedia call.
type sendCall struct {
	To      ChatID
	Body    string
	Media   *MediaPayload
	Caption string
}

// fakeClient is a MessagingClient that records calls and returns canned
// responses.
type fakeClient struct {
	events chan Event

	mu          sync.Mutex
	chats       ChatList
	listErr     error
	listGate    chan struct{}
	listCalls   int
	initErr     error
	sendErrs    map[ChatID]error
	fetchErrs   []error
	media       *MediaPayload
	blockSends  bool
	sends       []sendCall
	fetchCalls  int
	initialized bool
	destroyed   bool

	// onInit runs at the end of Initialize, typically to emit events.
	onInit func(fc *fakeClient)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:   make(chan Event, eventBufferSize),
		chats:    testChats(),
		sendErrs: make(map[ChatID]error),
		media: &MediaPayload{
			Kind:     MediaImage,
			Mimetype: "image/jpeg",
			Data:     []byte{0xff, 0xd8, 0xff},
		},
	}
}

var _ MessagingClient = (*fakeClient)(nil)

func (fc *fakeClient) Initialize(_ context.Context) error {
	fc.mu.Lock()
	fc.initialized = true
	err := fc.initErr
	onInit := fc.onInit
	fc.mu.Unlock()
	if err != nil {
		return err
	}
	if onInit != nil {
		onInit(fc)
	}
	return nil
}

func (fc *fakeClient) Destroy() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.destroyed = true
}

func (fc *fakeClient) Events() <-chan Event {
	return fc.events
}

func (fc *fakeClient) emit(evts ...Event) {
	for _, evt := range evts {
		fc.events <- evt
	}
}

// ListChats waits for listGate to close when one is set. Like the real
// adapter, it does not give up when the context is cancelled.
func (fc *fakeClient) ListChats(_ context.Context) (ChatList, error) {
	fc.mu.Lock()
	fc.listCalls++
	gate := fc.listGate
	fc.mu.Unlock()
	if gate != nil {
		<-gate
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.listErr != nil {
		return nil, fc.listErr
	}
	cp := make(ChatList, len(fc.chats))
	copy(cp, fc.chats)
	return cp, nil
}

func (fc *fakeClient) send(ctx context.Context, call sendCall) error {
	fc.mu.Lock()
	block := fc.blockSends
	fc.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.destroyed {
		return ErrNoSession
	}
	if err := fc.sendErrs[call.To]; err != nil {
		return err
	}
	fc.sends = append(fc.sends, call)
	return nil
}

func (fc *fakeClient) SendText(ctx context.Context, to ChatID, body string) error {
	return fc.send(ctx, sendCall{To: to, Body: body})
}

func (fc *fakeClient) SendMedia(ctx context.Context, to ChatID, media *MediaPayload, caption string) error {
	return fc.send(ctx, sendCall{To: to, Media: media, Caption: caption})
}

func (fc *fakeClient) FetchMedia(_ context.Context, msg *MessageRecord) (*MediaPayload, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fetchCalls++
	if len(fc.fetchErrs) > 0 {
		err := fc.fetchErrs[0]
		fc.fetchErrs = fc.fetchErrs[1:]
		return nil, err
	}
	if !msg.HasMedia() {
		return nil, ErrNoMedia
	}
	return fc.media, nil
}

func (fc *fakeClient) Sends() []sendCall {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	cp := make([]sendCall, len(fc.sends))
	copy(cp, fc.sends)
	return cp
}

func (fc *fakeClient) ListCalls() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.listCalls
}

func (fc *fakeClient) FetchCalls() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.fetchCalls
}

func (fc *fakeClient) Destroyed() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.destroyed
}

// fakeFactory hands out fakeClients and remembers every one it created.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	err     error
	calls   int

	// setup configures each new client before it is returned.
	setup func(fc *fakeClient, index int)
}

func (ff *fakeFactory) New(_ context.Context) (MessagingClient, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.calls++
	if ff.err != nil {
		return nil, ff.err
	}
	fc := newFakeClient()
	if ff.setup != nil {
		ff.setup(fc, len(ff.clients))
	}
	ff.clients = append(ff.clients, fc)
	return fc, nil
}

func (ff *fakeFactory) Clients() []*fakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	cp := make([]*fakeClient, len(ff.clients))
	copy(cp, ff.clients)
	return cp
}

func (ff *fakeFactory) Calls() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.calls
}

// readyOnInit makes a client emit the events of a successful connection.
func readyOnInit(fc *fakeClient, _ int) {
	fc.onInit = func(fc *fakeClient) {
		fc.emit(Authenticated{}, Ready{})
	}
}

func testConfig() Config {
	return Config{
		Forward: ForwardConfig{
			Source:  "GroupA",
			Targets: []string{"GroupB", "GroupC"},
		},
		HTTP: HTTPConfig{
			Port:        3000,
			CORSOrigins: []string{"*"},
		},
		Pairing: PairingConfig{
			ImageSize: 64,
		},
		Database: DatabaseConfig{
			Type: "sqlite3",
			URI:  "file::memory:",
		},
		Reconnect: ReconnectConfig{
			BaseDelay: time.Millisecond,
			MaxDelay:  4 * time.Millisecond,
		},
	}
}

// newTestConnector creates a RelayConnector backed by factory. The
// connector is stopped when the test ends.
func newTestConnector(t *testing.T, cfg Config, factory *fakeFactory) *RelayConnector {
	t.Helper()
	if factory == nil {
		factory = &fakeFactory{}
	}
	rc := NewRelayConnector(cfg, zerolog.Nop(), factory.New)
	rc.qrOut = nil
	t.Cleanup(func() {
		_ = rc.Stop(context.Background())
	})
	return rc
}

// newTestSession installs a session around client without starting any
// goroutines, so tests can drive events synchronously.
func newTestSession(rc *RelayConnector, client MessagingClient) *relaySession {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &relaySession{
		id:         "test-session",
		client:     client,
		ctx:        ctx,
		cancel:     cancel,
		log:        zerolog.Nop(),
		relayQueue: make(chan *MessageRecord, relayQueueSize),
	}
	rc.mu.Lock()
	rc.session = sess
	rc.mu.Unlock()
	return sess
}

// drainRelays relays every queued message synchronously.
func drainRelays(rc *RelayConnector, sess *relaySession) {
	for {
		select {
		case msg := <-sess.relayQueue:
			rc.relayMessage(sess, msg)
		default:
			return
		}
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// logTexts returns the text of every log entry.
func logTexts(ps *ProcessState) []string {
	entries := ps.Logs()
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}
	return texts
}

func textMessage(chat ChatID, body string) *MessageRecord {
	return &MessageRecord{
		ID:          "MSG-" + strings.ToUpper(body),
		Chat:        chat,
		Sender:      chatAlice,
		SenderPhone: "15551234567",
		PushName:    "Alice",
		Body:        body,
		Timestamp:   time.Unix(1700000000, 0),
	}
}
