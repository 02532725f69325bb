// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata keys recognized in MetadataContent.
const (
	MetaAction          = "action"
	MetaReasoningChain  = "reasoning_chain"
	MetaValidationProof = "validation_proof"
	MetaSessionID       = "session_id"
	MetaUserAddress     = "user_address"
	MetaOriginalSender  = "original_sender"
	MetaCapsuleID       = "capsule_id"
)

// Capsule store actions carried under MetaAction.
const (
	ActionStore    = "store"
	ActionRetrieve = "retrieve"
	ActionList     = "list"
)

// ContentKind discriminates the Content variants on the wire.
type ContentKind string

const (
	KindText         ContentKind = "text"
	KindMetadata     ContentKind = "metadata"
	KindStartSession ContentKind = "start_session"
	KindEndSession   ContentKind = "end_session"
)

// Content is one variant of a message payload. The set of variants is
// closed: TextContent, MetadataContent, StartSession, EndSession.
type Content interface {
	Kind() ContentKind
	isContent()
}

// TextContent carries free text.
type TextContent struct {
	Text string `json:"text"`
}

// MetadataContent carries a key/value map.
type MetadataContent struct {
	Metadata map[string]string `json:"metadata"`
}

// StartSession marks the beginning of a conversation.
type StartSession struct{}

// EndSession marks the end of a conversation.
type EndSession struct{}

func (TextContent) Kind() ContentKind     { return KindText }
func (MetadataContent) Kind() ContentKind { return KindMetadata }
func (StartSession) Kind() ContentKind    { return KindStartSession }
func (EndSession) Kind() ContentKind      { return KindEndSession }

func (TextContent) isContent()     {}
func (MetadataContent) isContent() {}
func (StartSession) isContent()    {}
func (EndSession) isContent()      {}

// Envelope is the inter-component message.
type Envelope struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Contents  []Content `json:"-"`
}

// Text concatenates all TextContent payloads, newline separated.
func (e Envelope) Text() string {
	var s string
	for _, c := range e.Contents {
		if t, ok := c.(TextContent); ok {
			if s != "" {
				s += "\n"
			}
			s += t.Text
		}
	}
	return s
}

// Metadata merges all MetadataContent payloads. Later keys win.
func (e Envelope) Metadata() map[string]string {
	out := map[string]string{}
	for _, c := range e.Contents {
		if m, ok := c.(MetadataContent); ok {
			for k, v := range m.Metadata {
				out[k] = v
			}
		}
	}
	return out
}

// Has reports whether the envelope carries a content of the given kind.
func (e Envelope) Has(kind ContentKind) bool {
	for _, c := range e.Contents {
		if c.Kind() == kind {
			return true
		}
	}
	return false
}

type wireContent struct {
	Type     ContentKind       `json:"type"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type wireEnvelope struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	Recipient string        `json:"recipient"`
	SessionID string        `json:"session_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Contents  []wireContent `json:"contents"`
}

// MarshalJSON encodes contents with a type discriminator.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		ID:        e.ID,
		Sender:    e.Sender,
		Recipient: e.Recipient,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Contents:  make([]wireContent, 0, len(e.Contents)),
	}
	for _, c := range e.Contents {
		wc := wireContent{Type: c.Kind()}
		switch v := c.(type) {
		case TextContent:
			wc.Text = v.Text
		case MetadataContent:
			wc.Metadata = v.Metadata
		case StartSession, EndSession:
		}
		w.Contents = append(w.Contents, wc)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes contents by their type discriminator.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		ID:        w.ID,
		Sender:    w.Sender,
		Recipient: w.Recipient,
		SessionID: w.SessionID,
		Timestamp: w.Timestamp,
	}
	for _, wc := range w.Contents {
		switch wc.Type {
		case KindText:
			e.Contents = append(e.Contents, TextContent{Text: wc.Text})
		case KindMetadata:
			e.Contents = append(e.Contents, MetadataContent{Metadata: wc.Metadata})
		case KindStartSession:
			e.Contents = append(e.Contents, StartSession{})
		case KindEndSession:
			e.Contents = append(e.Contents, EndSession{})
		default:
			return fmt.Errorf("unknown content type %q", wc.Type)
		}
	}
	return nil
}
