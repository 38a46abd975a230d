// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/wa-groupfwd/pkg/connector/logfmt"
)

// onMessage logs every message seen on a ready session and queues messages
// from the source chat for relaying.
func (rc *RelayConnector) onMessage(sess *relaySession, msg *MessageRecord) {
	if msg == nil {
		return
	}
	source, ok := sess.subscription()
	if !ok {
		sess.log.Debug().
			Str("message_id", msg.ID).
			Msg("Ignoring message received before the source group was resolved")
		return
	}

	rc.State.AppendLog(rc.describeReceived(sess, msg), false)

	if msg.Chat != source.ID {
		return
	}
	sess.log.Debug().
		Str("message_id", msg.ID).
		Bool("has_media", msg.HasMedia()).
		Msg("Queueing message from source group")
	select {
	case sess.relayQueue <- msg:
	case <-sess.ctx.Done():
	}
}

// describeReceived builds the log entry text for an inbound message.
func (rc *RelayConnector) describeReceived(sess *relaySession, msg *MessageRecord) string {
	chat := sess.chatName(msg.Chat)
	sender := logfmt.SenderLabel(msg.SenderPhone, msg.PushName)
	body := msg.Body
	if msg.HasMedia() {
		body = logfmt.MediaBody(string(msg.Media.Kind), body)
	}
	return logfmt.Received(chat, sender, body)
}
