// Copyright 2024-2026 Aiku AI

// Package logfmt builds the human-readable entries of the relay message log.
package logfmt

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// FormatPhone formats the digits of a WhatsApp user JID as an international
// phone number. Digits that do not parse as a phone number are returned with
// a leading plus sign.
func FormatPhone(digits string) string {
	digits = strings.TrimPrefix(digits, "+")
	if digits == "" {
		return ""
	}
	num, err := phonenumbers.Parse("+"+digits, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "+" + digits
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// SenderLabel describes who sent a message. The phone number is preferred;
// the push name is appended when both are known.
func SenderLabel(phoneDigits, pushName string) string {
	phone := FormatPhone(phoneDigits)
	switch {
	case phone != "" && pushName != "":
		return fmt.Sprintf("%s (%s)", phone, pushName)
	case phone != "":
		return phone
	default:
		return pushName
	}
}

// MediaBody prefixes the body with a placeholder for the attachment kind.
func MediaBody(kind, body string) string {
	if kind == "" {
		return body
	}
	if body == "" {
		return "[" + kind + "]"
	}
	return "[" + kind + "] " + body
}

// Received is the entry logged for every inbound message.
func Received(chat, sender, body string) string {
	if sender == "" || sender == chat {
		return fmt.Sprintf("Message received from %s: %s", chat, body)
	}
	return fmt.Sprintf("Message received from %s, sent by %s: %s", chat, sender, body)
}

// TargetNotFound is the entry logged when a target name has no matching chat.
func TargetNotFound(name string) string {
	return fmt.Sprintf("Target group %q not found", name)
}

// SendFailed is the entry logged when relaying to a target fails.
func SendFailed(name string, err error) string {
	return fmt.Sprintf("Failed to send message to %q: %v", name, err)
}
