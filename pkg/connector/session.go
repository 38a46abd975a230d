// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-groupfwd/pkg/connector/qrfmt"
)

const relayQueueSize = 256

// relaySession is the single live client plus everything resolved for it.
// It is created by startSession and discarded by teardownLocked.
type relaySession struct {
	id     string
	client MessagingClient
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu         sync.RWMutex
	chats      ChatList
	source     ChatIdentity
	subscribed bool

	relayQueue chan *MessageRecord
}

func (rs *relaySession) subscribe(chats ChatList, source ChatIdentity) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.chats = chats
	rs.source = source
	rs.subscribed = true
}

func (rs *relaySession) setChats(chats ChatList) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.chats = chats
}

// subscription returns the resolved source chat. ok is false until the
// session is ready.
func (rs *relaySession) subscription() (source ChatIdentity, ok bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.source, rs.subscribed
}

func (rs *relaySession) findChat(name string) (ChatIdentity, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.chats.FindByName(name)
}

func (rs *relaySession) chatName(id ChatID) string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, chat := range rs.chats {
		if chat.ID == id {
			return chat.Name
		}
	}
	return string(id)
}

// startRelay begins the first session.
func (rc *RelayConnector) startRelay() {
	rc.mu.Lock()
	rc.generation++
	gen := rc.generation
	rc.mu.Unlock()
	go rc.startSession(gen)
}

// startSession creates and initializes a new session if gen is still the
// current generation and no session is active.
func (rc *RelayConnector) startSession(gen uint64) {
	rc.mu.Lock()
	if rc.stopped || gen != rc.generation || rc.session != nil {
		rc.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(rc.baseCtx)
	sess := &relaySession{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		relayQueue: make(chan *MessageRecord, relayQueueSize),
	}
	sess.log = rc.log.With().Str("session_id", sess.id).Logger()
	rc.session = sess
	rc.State.beginSession(sess.id)
	rc.mu.Unlock()

	sess.log.Info().Uint64("generation", gen).Msg("Starting session")
	client, err := rc.factory(ctx)
	if err != nil {
		sess.log.Err(err).Msg("Failed to create client")
		rc.handleDisconnect(sess, fmt.Sprintf("failed to create client: %v", err))
		return
	}

	rc.mu.Lock()
	if rc.session != sess {
		rc.mu.Unlock()
		client.Destroy()
		return
	}
	sess.client = client
	rc.mu.Unlock()

	go rc.dispatch(sess)
	go rc.relayWorker(sess)

	if err = client.Initialize(ctx); err != nil {
		sess.log.Err(err).Msg("Failed to initialize client")
		rc.handleDisconnect(sess, fmt.Sprintf("failed to initialize client: %v", err))
	}
}

// dispatch consumes the client's events in order until the session ends.
func (rc *RelayConnector) dispatch(sess *relaySession) {
	events := sess.client.Events()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case evt := <-events:
			rc.handleEvent(sess, evt)
		}
	}
}

func (rc *RelayConnector) relayWorker(sess *relaySession) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case msg := <-sess.relayQueue:
			rc.relayMessage(sess, msg)
		}
	}
}

func (rc *RelayConnector) isCurrent(sess *relaySession) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.session == sess
}

// whileCurrent runs fn with rc.mu held if sess is still the live session.
// State writes go through it so a replaced session never overwrites the
// state of its successor.
func (rc *RelayConnector) whileCurrent(sess *relaySession, fn func()) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.session != sess {
		return false
	}
	fn()
	return true
}

func (rc *RelayConnector) handleEvent(sess *relaySession, rawEvt Event) {
	if !rc.isCurrent(sess) {
		return
	}
	switch evt := rawEvt.(type) {
	case PairingCodeIssued:
		rc.onPairingCode(sess, evt)
	case PairingFailed:
		sess.log.Err(evt.Err).Msg("Failed to generate pairing code")
		rc.whileCurrent(sess, func() {
			rc.State.setLastError(fmt.Sprintf("pairing code generation failed: %v", evt.Err))
		})
	case Authenticated:
		if rc.whileCurrent(sess, func() {
			rc.State.ClearPairingCode()
			rc.State.SetState(StateAuthenticated)
		}) {
			sess.log.Info().Msg("Authenticated")
		}
	case AuthFailed:
		rc.haltSession(sess, evt.Reason)
	case Ready:
		rc.onReady(sess)
	case MessageReceived:
		rc.onMessage(sess, evt.Message)
	case Disconnected:
		rc.handleDisconnect(sess, evt.Reason)
	default:
		sess.log.Warn().Type("event_type", rawEvt).Msg("Unknown client event")
	}
}

func (rc *RelayConnector) onPairingCode(sess *relaySession, evt PairingCodeIssued) {
	if !rc.whileCurrent(sess, func() {
		rc.State.SetPairingCode(evt.Code)
		rc.State.SetState(StatePairing)
	}) {
		return
	}
	sess.log.Info().Dur("timeout", evt.Timeout).Msg("Pairing code received")
	if rc.Config.Pairing.PrintToTerminal && rc.qrOut != nil {
		qrfmt.PrintTerminal(evt.Code, rc.qrOut)
	}
}

// onReady snapshots the chat list and resolves the source chat. Relaying
// only starts when the source is found. Listing can take a while, so the
// session may have been replaced by the time it returns.
func (rc *RelayConnector) onReady(sess *relaySession) {
	chats, err := sess.client.ListChats(sess.ctx)
	if err != nil {
		sess.log.Err(err).Msg("Failed to list chats")
		rc.handleDisconnect(sess, fmt.Sprintf("failed to list chats: %v", err))
		return
	}
	sourceName := rc.Config.Forward.Source
	source, ok := chats.FindByName(sourceName)
	if !ok {
		if !rc.whileCurrent(sess, func() {
			sess.setChats(chats)
			rc.State.setLastError(fmt.Sprintf("source group %q not found", sourceName))
		}) {
			sess.log.Debug().Msg("Session replaced while listing chats")
			return
		}
		sess.log.Error().
			Str("source", sourceName).
			Int("chat_count", len(chats)).
			Msg("Source group not found, relay disabled until reconnect")
		return
	}
	if !rc.whileCurrent(sess, func() {
		sess.subscribe(chats, source)
		rc.backoff.Reset()
		rc.State.setSourceResolved(true)
		rc.State.setLastError("")
		rc.State.SetState(StateReady)
	}) {
		sess.log.Debug().Msg("Session replaced while listing chats")
		return
	}
	if n := chats.CountByName(sourceName); n > 1 {
		sess.log.Warn().
			Str("source", sourceName).
			Int("matches", n).
			Str("chat_id", string(source.ID)).
			Msg("Several chats share the source name, using the first one")
	}
	for _, name := range rc.Config.Forward.Targets {
		if _, found := chats.FindByName(name); !found {
			sess.log.Warn().Str("target", name).Msg("Target group not visible")
		}
	}
	sess.log.Info().
		Str("source", sourceName).
		Str("chat_id", string(source.ID)).
		Strs("targets", rc.Config.Forward.Targets).
		Msg("Client is ready, relaying messages")
}

// haltSession ends the session after an authentication failure without
// scheduling a reconnect.
func (rc *RelayConnector) haltSession(sess *relaySession, reason string) {
	rc.mu.Lock()
	if rc.session != sess {
		rc.mu.Unlock()
		return
	}
	rc.teardownLocked()
	rc.mu.Unlock()

	rc.State.ClearPairingCode()
	rc.State.setSourceResolved(false)
	rc.State.setLastError(reason)
	rc.State.SetState(StateAuthFailed)
	sess.log.Error().Str("reason", reason).Msg("Authentication failed, restart required")
}

// handleDisconnect tears the session down and schedules a new one after the
// backoff delay.
func (rc *RelayConnector) handleDisconnect(sess *relaySession, reason string) {
	rc.mu.Lock()
	if rc.stopped || rc.session != sess {
		rc.mu.Unlock()
		return
	}
	rc.teardownLocked()
	delay, ok := rc.backoff.Next()
	attempt := rc.backoff.Attempt()
	gen := rc.generation
	rc.mu.Unlock()

	rc.State.ClearPairingCode()
	rc.State.setSourceResolved(false)
	rc.State.setLastError(reason)
	rc.State.SetState(StateDisconnected)

	if !ok {
		sess.log.Error().
			Str("reason", reason).
			Int("attempts", attempt).
			Msg("Disconnected, giving up after too many reconnection attempts")
		return
	}
	sess.log.Warn().
		Str("reason", reason).
		Dur("delay", delay).
		Int("attempt", attempt).
		Msg("Disconnected, restarting session")
	go rc.reconnectAfter(gen, delay)
}

func (rc *RelayConnector) reconnectAfter(gen uint64, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-rc.baseCtx.Done():
		return
	case <-timer.C:
	}
	rc.startSession(gen)
}

// Restart tears down the current session, clears the message log and the
// pairing code, and starts a new session in the background.
func (rc *RelayConnector) Restart() {
	rc.mu.Lock()
	if rc.stopped {
		rc.mu.Unlock()
		return
	}
	rc.teardownLocked()
	rc.generation++
	gen := rc.generation
	rc.backoff.Reset()
	rc.State.ClearLogs()
	rc.State.ClearPairingCode()
	rc.State.setSourceResolved(false)
	rc.State.setLastError("")
	rc.State.SetState(StateUninitialized)
	rc.mu.Unlock()

	rc.log.Info().Uint64("generation", gen).Msg("Manual restart requested")
	go rc.startSession(gen)
}

// teardownLocked ends the current session. In-flight relays see a cancelled
// context and a destroyed client. rc.mu must be held.
func (rc *RelayConnector) teardownLocked() {
	sess := rc.session
	if sess == nil {
		return
	}
	rc.session = nil
	sess.cancel()
	if sess.client != nil {
		sess.client.Destroy()
	}
	sess.log.Debug().Msg("Session torn down")
}
