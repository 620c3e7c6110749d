// Package adapter defines the boundary between the kernel and an external
// conversation surface (§6), plus an in-process reference implementation
// used by tests and the CLI's run command.
package adapter

import (
	"context"
	"time"
)

// Attachment is a non-text payload attached to an inbound message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// InboundMessage is one message arriving from an external platform,
// already normalized to the kernel's shape.
type InboundMessage struct {
	ConversationID   string
	SenderID         string
	Content          string
	Attachments      []Attachment
	Timestamp        time.Time
	InboundID        string
	PlatformMetadata map[string]string
}

// OutboundEvent is the closed set of things a kernel process can deliver
// back to a platform.
type OutboundEvent interface{ outboundEvent() }

// Text is a complete message.
type Text struct{ Content string }

func (Text) outboundEvent() {}

// StreamStart opens a streamed reply.
type StreamStart struct{ StreamID string }

func (StreamStart) outboundEvent() {}

// StreamChunk appends to a streamed reply.
type StreamChunk struct {
	StreamID string
	Chunk    string
}

func (StreamChunk) outboundEvent() {}

// StreamEnd closes a streamed reply.
type StreamEnd struct{ StreamID string }

func (StreamEnd) outboundEvent() {}

// StatusHint surfaces a live status line (e.g. "running tool: shell").
type StatusHint struct{ Text string }

func (StatusHint) outboundEvent() {}

// Adapter delivers kernel-originated events back to an external platform.
type Adapter interface {
	Deliver(ctx context.Context, channelID string, ev OutboundEvent) error
}
