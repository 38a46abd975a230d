// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/wa-groupfwd/pkg/connector/logfmt"
)

// relayMessage sends msg to every configured target in order. A target that
// cannot be resolved or fails to send is logged and skipped.
func (rc *RelayConnector) relayMessage(sess *relaySession, msg *MessageRecord) {
	log := sess.log.With().Str("message_id", msg.ID).Logger()

	var media *MediaPayload
	for _, name := range rc.Config.Forward.Targets {
		target, ok := sess.findChat(name)
		if !ok {
			log.Warn().Str("target", name).Msg("Target group not found")
			rc.State.AppendLog(logfmt.TargetNotFound(name), true)
			continue
		}

		// Media is downloaded once and reused for the remaining targets.
		if msg.HasMedia() && media == nil {
			fetched, err := sess.client.FetchMedia(sess.ctx, msg)
			if err != nil {
				log.Err(err).Str("target", name).Msg("Failed to fetch media")
				rc.State.AppendLog(logfmt.SendFailed(name, err), true)
				continue
			}
			media = fetched
		}

		if err := rc.relayTo(sess, target, msg, media); err != nil {
			log.Err(err).
				Str("target", name).
				Str("chat_id", string(target.ID)).
				Msg("Failed to forward message")
			rc.State.AppendLog(logfmt.SendFailed(name, err), true)
			continue
		}
		log.Debug().
			Str("target", name).
			Str("chat_id", string(target.ID)).
			Msg("Forwarded message")
	}
}

func (rc *RelayConnector) relayTo(sess *relaySession, target ChatIdentity, msg *MessageRecord, media *MediaPayload) error {
	if media != nil {
		return sess.client.SendMedia(sess.ctx, target.ID, media, msg.Body)
	}
	return sess.client.SendText(sess.ctx, target.ID, msg.Body)
}
