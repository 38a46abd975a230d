// Copyright 2024-2026 Aiku AI

package connector

import (
	"time"
)

// Event is something the messaging client reports to the lifecycle manager.
type Event interface {
	isEvent()
}

// PairingCodeIssued carries a new pairing QR code. Each one replaces the
// previous code.
type PairingCodeIssued struct {
	Code    string
	Timeout time.Duration
}

// PairingFailed is emitted when a pairing code could not be produced.
type PairingFailed struct {
	Err error
}

// Authenticated is emitted once the client holds valid credentials, either
// after pairing or when a stored session was restored.
type Authenticated struct{}

// AuthFailed is emitted when the backend rejects the session. The session is
// not retried automatically.
type AuthFailed struct {
	Reason string
}

// Ready is emitted when the connection is usable and chats can be listed.
type Ready struct{}

// MessageReceived carries an inbound message.
type MessageReceived struct {
	Message *MessageRecord
}

// Disconnected is emitted when the connection to the backend is lost.
type Disconnected struct {
	Reason string
}

func (PairingCodeIssued) isEvent() {}
func (PairingFailed) isEvent()     {}
func (Authenticated) isEvent()     {}
func (AuthFailed) isEvent()        {}
func (Ready) isEvent()             {}
func (MessageReceived) isEvent()   {}
func (Disconnected) isEvent()      {}

// MediaKind identifies the type of attachment a message carries.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// HasCaption reports whether messages of this kind can carry a caption.
func (mk MediaKind) HasCaption() bool {
	switch mk {
	case MediaImage, MediaVideo, MediaDocument:
		return true
	default:
		return false
	}
}

// MediaInfo describes the attachment of a received message. The payload
// itself is only fetched when the message is relayed.
type MediaInfo struct {
	Kind     MediaKind
	Mimetype string
	FileName string

	// ref is the client-specific handle used to download the payload.
	ref any
}

// MediaPayload is a downloaded attachment.
type MediaPayload struct {
	Kind     MediaKind
	Mimetype string
	FileName string
	Data     []byte
}

// MessageRecord is a single received message.
type MessageRecord struct {
	ID          string
	Chat        ChatID
	Sender      ChatID
	SenderPhone string
	PushName    string
	Body        string
	Timestamp   time.Time
	Media       *MediaInfo
}

// HasMedia reports whether the message carries an attachment.
func (mr *MessageRecord) HasMedia() bool {
	return mr.Media != nil
}
