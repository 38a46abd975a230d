// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector relays every message posted in one WhatsApp chat to a
// fixed list of other chats, using the whatsmeow multi-device client.
//
// # Core Types
//
// [RelayConnector] owns the [ProcessState], the single live session and the
// HTTP status server. It drives the session lifecycle: pairing, ready,
// reconnecting with backoff after a disconnect, and manual restarts.
//
// [MessagingClient] is the boundary to the messaging backend. [WhatsAppClient]
// implements it with whatsmeow and converts whatsmeow events into the
// connector's [Event] types, which are consumed in order by one dispatcher
// goroutine per session.
//
// # Relaying
//
// Chats are resolved by display name against the chat list snapshot taken
// when the session becomes ready. When several chats share a name, the
// first one in listing order wins. Each message from the source chat is sent
// to the targets one after another; a target that cannot be found or fails
// to send is logged and skipped. Messages sent by the paired account itself
// are never relayed.
//
// # Status Server
//
// GET /qr renders the current pairing code, GET /messages lists the message
// log, and GET /restart restarts the session and clears the log. Every
// response has status 200.
//
// # Sub-packages
//
//   - qrfmt renders pairing codes as PNG, data URLs and terminal QR codes.
//   - logfmt builds the message log entry texts.
package connector
