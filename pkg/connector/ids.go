// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"

	"go.mau.fi/whatsmeow/types"
)

// ChatID is the string form of a WhatsApp chat JID.
type ChatID string

// MakeChatID creates a ChatID from a WhatsApp JID.
func MakeChatID(jid types.JID) ChatID {
	return ChatID(jid.String())
}

// ParseChatID extracts the WhatsApp JID from a ChatID.
func ParseChatID(id ChatID) (types.JID, error) {
	jid, err := types.ParseJID(string(id))
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat ID %q: %w", id, err)
	}
	return jid, nil
}

// ChatIdentity is a chat visible to the paired account.
type ChatIdentity struct {
	ID      ChatID `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
}

// ChatList is a snapshot of the visible chats in listing order.
type ChatList []ChatIdentity

// FindByName returns the first chat in listing order whose display name is
// exactly name.
func (cl ChatList) FindByName(name string) (ChatIdentity, bool) {
	for _, chat := range cl {
		if chat.Name == name {
			return chat, true
		}
	}
	return ChatIdentity{}, false
}

// CountByName returns how many chats are named name.
func (cl ChatList) CountByName(name string) int {
	count := 0
	for _, chat := range cl {
		if chat.Name == name {
			count++
		}
	}
	return count
}
