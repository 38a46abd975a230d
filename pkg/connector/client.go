// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
)

var (
	// ErrNoSession is returned when a client is used before Initialize or
	// after Destroy.
	ErrNoSession = errors.New("no active session")
	// ErrNoMedia is returned by FetchMedia for messages without attachments.
	ErrNoMedia = errors.New("message has no media")
	// ErrUnsupportedMedia is returned for attachment kinds that cannot be
	// sent.
	ErrUnsupportedMedia = errors.New("unsupported media kind")
)

// MessagingClient is a single connection to the messaging backend. A client
// is used for exactly one session: after Destroy it is discarded and a new
// one is created through a ClientFactory.
type MessagingClient interface {
	// Initialize connects to the backend. Lifecycle events, including
	// pairing codes for unpaired devices, are delivered on Events.
	Initialize(ctx context.Context) error
	// Destroy disconnects and releases the client. It is safe to call more
	// than once.
	Destroy()
	// Events returns the channel lifecycle and message events are delivered
	// on, in the order they happened.
	Events() <-chan Event

	ListChats(ctx context.Context) (ChatList, error)
	SendText(ctx context.Context, to ChatID, body string) error
	SendMedia(ctx context.Context, to ChatID, media *MediaPayload, caption string) error
	FetchMedia(ctx context.Context, msg *MessageRecord) (*MediaPayload, error)
}

// ClientFactory creates the client for a new session.
type ClientFactory func(ctx context.Context) (MessagingClient, error)
