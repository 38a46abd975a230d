// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const eventBufferSize = 64

// WhatsAppClient implements MessagingClient on top of a whatsmeow client.
type WhatsAppClient struct {
	client    *whatsmeow.Client
	handlerID uint32
	events    chan Event

	authMu        sync.Mutex
	authenticated bool

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ MessagingClient = (*WhatsAppClient)(nil)

// NewWhatsAppClientFactory returns a ClientFactory that opens the first
// device in container for every new session. When no paired device exists,
// whatsmeow hands out a fresh one and the session starts with pairing.
func NewWhatsAppClientFactory(container *sqlstore.Container, log zerolog.Logger) ClientFactory {
	return func(ctx context.Context) (MessagingClient, error) {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load device: %w", err)
		}
		return NewWhatsAppClient(device, log), nil
	}
}

// NewWhatsAppClient wraps a whatsmeow client for the given device.
// whatsmeow's own auto-reconnect is disabled: reconnection is a full session
// restart driven by the RelayConnector.
func NewWhatsAppClient(device *store.Device, log zerolog.Logger) *WhatsAppClient {
	wa := &WhatsAppClient{
		events:   make(chan Event, eventBufferSize),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "wa_client").Logger(),
	}
	wa.client = whatsmeow.NewClient(device, waLog.Zerolog(log.With().Str("component", "whatsmeow").Logger()))
	wa.client.EnableAutoReconnect = false
	wa.handlerID = wa.client.AddEventHandler(wa.handleWAEvent)
	return wa
}

func (wa *WhatsAppClient) Events() <-chan Event {
	return wa.events
}

// Initialize implements MessagingClient. Unpaired devices get a QR channel
// before connecting so that pairing codes are reported as they are issued.
func (wa *WhatsAppClient) Initialize(ctx context.Context) error {
	if wa.client == nil {
		return ErrNoSession
	}
	if wa.client.Store.ID == nil {
		qrChan, err := wa.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go wa.watchQRChannel(qrChan)
	} else {
		wa.log.Info().Str("jid", wa.client.Store.ID.String()).Msg("Restoring stored session")
	}
	if err := wa.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Destroy implements MessagingClient.
func (wa *WhatsAppClient) Destroy() {
	wa.stopOnce.Do(func() {
		close(wa.stopChan)
		if wa.client != nil {
			wa.client.RemoveEventHandler(wa.handlerID)
			wa.client.Disconnect()
		}
	})
}

func (wa *WhatsAppClient) emit(evt Event) {
	select {
	case wa.events <- evt:
	case <-wa.stopChan:
	}
}

func (wa *WhatsAppClient) markAuthenticated() bool {
	wa.authMu.Lock()
	defer wa.authMu.Unlock()
	if wa.authenticated {
		return false
	}
	wa.authenticated = true
	return true
}

func (wa *WhatsAppClient) watchQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			wa.emit(PairingCodeIssued{Code: item.Code, Timeout: item.Timeout})
		case whatsmeow.QRChannelSuccess.Event:
			// Reported through events.PairSuccess.
		case whatsmeow.QRChannelTimeout.Event:
			wa.emit(Disconnected{Reason: "pairing timed out"})
		case whatsmeow.QRChannelEventError:
			wa.emit(PairingFailed{Err: item.Error})
		default:
			wa.emit(AuthFailed{Reason: "pairing failed: " + item.Event})
		}
	}
}

// handleWAEvent converts whatsmeow events to connector events.
func (wa *WhatsAppClient) handleWAEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		msg := convertMessage(evt)
		if msg == nil {
			wa.log.Trace().Str("message_id", evt.Info.ID).Msg("Skipping message without text or media")
			return
		}
		wa.emit(MessageReceived{Message: msg})
	case *events.PairSuccess:
		wa.log.Info().Str("jid", evt.ID.String()).Str("platform", evt.Platform).Msg("Pairing successful")
		if wa.markAuthenticated() {
			wa.emit(Authenticated{})
		}
	case *events.PairError:
		wa.emit(AuthFailed{Reason: fmt.Sprintf("pairing failed: %v", evt.Error)})
	case *events.Connected:
		if wa.markAuthenticated() {
			wa.emit(Authenticated{})
		}
		wa.emit(Ready{})
	case *events.LoggedOut:
		reason := fmt.Sprintf("logged out: %v", evt.Reason)
		if evt.OnConnect {
			wa.emit(AuthFailed{Reason: reason})
		} else {
			wa.emit(Disconnected{Reason: reason})
		}
	case *events.ConnectFailure:
		wa.emit(AuthFailed{Reason: fmt.Sprintf("connect failure: %v %s", evt.Reason, evt.Message)})
	case *events.ClientOutdated:
		wa.emit(AuthFailed{Reason: "client outdated"})
	case *events.TemporaryBan:
		wa.emit(AuthFailed{Reason: fmt.Sprintf("temporary ban: %v", evt)})
	case *events.StreamReplaced:
		wa.emit(Disconnected{Reason: "stream replaced by another client"})
	case *events.Disconnected:
		wa.emit(Disconnected{Reason: "connection lost"})
	case *events.KeepAliveTimeout:
		wa.log.Debug().Int("error_count", evt.ErrorCount).Msg("Keepalive timeout")
	default:
		wa.log.Trace().Type("event_type", rawEvt).Msg("Unhandled event type")
	}
}

// convertMessage extracts the relay-relevant parts of a whatsmeow message.
// It returns nil for messages with neither text nor media, such as
// reactions and protocol messages.
func convertMessage(evt *events.Message) *MessageRecord {
	rec := &MessageRecord{
		ID:        evt.Info.ID,
		Chat:      MakeChatID(evt.Info.Chat),
		Sender:    MakeChatID(evt.Info.Sender.ToNonAD()),
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}
	if evt.Info.Sender.Server == types.DefaultUserServer {
		rec.SenderPhone = evt.Info.Sender.User
	}

	msg := evt.Message
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		rec.Body = img.GetCaption()
		rec.Media = &MediaInfo{Kind: MediaImage, Mimetype: img.GetMimetype(), ref: img}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		rec.Body = vid.GetCaption()
		rec.Media = &MediaInfo{Kind: MediaVideo, Mimetype: vid.GetMimetype(), ref: vid}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		rec.Body = doc.GetCaption()
		rec.Media = &MediaInfo{Kind: MediaDocument, Mimetype: doc.GetMimetype(), FileName: doc.GetFileName(), ref: doc}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		rec.Media = &MediaInfo{Kind: MediaAudio, Mimetype: aud.GetMimetype(), ref: aud}
	case msg.GetStickerMessage() != nil:
		stk := msg.GetStickerMessage()
		rec.Media = &MediaInfo{Kind: MediaSticker, Mimetype: stk.GetMimetype(), ref: stk}
	default:
		rec.Body = msg.GetConversation()
		if rec.Body == "" {
			rec.Body = msg.GetExtendedTextMessage().GetText()
		}
		if rec.Body == "" {
			return nil
		}
	}
	return rec
}

// ListChats implements MessagingClient. Joined groups come first in the
// order the server lists them, followed by saved contacts sorted by JID.
func (wa *WhatsAppClient) ListChats(ctx context.Context) (ChatList, error) {
	if wa.client == nil {
		return nil, ErrNoSession
	}
	groups, err := wa.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get joined groups: %w", err)
	}
	chats := groupsToChats(groups)

	contacts, err := wa.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		wa.log.Warn().Err(err).Msg("Failed to load contacts, listing groups only")
		return chats, nil
	}
	return append(chats, contactsToChats(contacts)...), nil
}

func groupsToChats(groups []*types.GroupInfo) ChatList {
	chats := make(ChatList, 0, len(groups))
	for _, group := range groups {
		if group == nil {
			continue
		}
		chats = append(chats, ChatIdentity{
			ID:      MakeChatID(group.JID),
			Name:    group.Name,
			IsGroup: true,
		})
	}
	return chats
}

func contactsToChats(contacts map[types.JID]types.ContactInfo) ChatList {
	chats := make(ChatList, 0, len(contacts))
	for jid, info := range contacts {
		name := contactName(info)
		if name == "" {
			continue
		}
		chats = append(chats, ChatIdentity{ID: MakeChatID(jid), Name: name})
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].ID < chats[j].ID
	})
	return chats
}

func contactName(info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.BusinessName != "":
		return info.BusinessName
	default:
		return info.PushName
	}
}

// SendText implements MessagingClient.
func (wa *WhatsAppClient) SendText(ctx context.Context, to ChatID, body string) error {
	if wa.client == nil {
		return ErrNoSession
	}
	jid, err := ParseChatID(to)
	if err != nil {
		return err
	}
	_, err = wa.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send text message: %w", err)
	}
	return nil
}

// FetchMedia implements MessagingClient.
func (wa *WhatsAppClient) FetchMedia(ctx context.Context, msg *MessageRecord) (*MediaPayload, error) {
	if wa.client == nil {
		return nil, ErrNoSession
	}
	if msg.Media == nil {
		return nil, ErrNoMedia
	}
	downloadable, ok := msg.Media.ref.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no download handle", ErrNoMedia, msg.Media.Kind)
	}
	data, err := wa.client.Download(ctx, downloadable)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", msg.Media.Kind, err)
	}
	return &MediaPayload{
		Kind:     msg.Media.Kind,
		Mimetype: msg.Media.Mimetype,
		FileName: msg.Media.FileName,
		Data:     data,
	}, nil
}

// SendMedia implements MessagingClient. Audio and stickers cannot carry a
// caption, so a non-empty caption follows them as a separate text message.
func (wa *WhatsAppClient) SendMedia(ctx context.Context, to ChatID, media *MediaPayload, caption string) error {
	if wa.client == nil {
		return ErrNoSession
	}
	jid, err := ParseChatID(to)
	if err != nil {
		return err
	}
	mediaType, err := uploadMediaType(media.Kind)
	if err != nil {
		return err
	}
	uploaded, err := wa.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", media.Kind, err)
	}
	msg, err := buildMediaMessage(media, uploaded, caption)
	if err != nil {
		return err
	}
	if _, err = wa.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", media.Kind, err)
	}
	if caption != "" && !media.Kind.HasCaption() {
		return wa.SendText(ctx, to, caption)
	}
	return nil
}

func uploadMediaType(kind MediaKind) (whatsmeow.MediaType, error) {
	switch kind {
	case MediaImage, MediaSticker:
		return whatsmeow.MediaImage, nil
	case MediaVideo:
		return whatsmeow.MediaVideo, nil
	case MediaAudio:
		return whatsmeow.MediaAudio, nil
	case MediaDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, kind)
	}
}

// buildMediaMessage creates the outgoing message for an uploaded payload.
func buildMediaMessage(media *MediaPayload, uploaded whatsmeow.UploadResponse, caption string) (*waE2E.Message, error) {
	var captionPtr *string
	if caption != "" {
		captionPtr = proto.String(caption)
	}
	switch media.Kind {
	case MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       captionPtr,
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	case MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       captionPtr,
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	case MediaDocument:
		fileName := media.FileName
		if fileName == "" {
			fileName = "file" + exmime.ExtensionFromMimetype(media.Mimetype)
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       captionPtr,
			FileName:      proto.String(fileName),
			Title:         proto.String(fileName),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	case MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	case MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, media.Kind)
	}
}
