// Copyright 2026 The Targetd Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/targetd-foundation/targetd/lib/codec"
)

// Message type constants for the console stream protocol. Each message
// is a 5-byte header (1 byte type + 4 byte big-endian payload length)
// followed by the payload.
const (
	// MessageTypeDescriptor carries a CBOR-encoded [StreamDescriptor]:
	// the daemon's answer to a read request, telling the client which
	// stream to follow and from where.
	MessageTypeDescriptor byte = 0x01

	// MessageTypeData carries raw console bytes. Daemon→client for
	// output, client→daemon for input.
	MessageTypeData byte = 0x02

	// MessageTypeAck confirms a client write was delivered to the
	// target. Payload is empty.
	MessageTypeAck byte = 0x03

	// MessageTypeError carries a CBOR-encoded error string for
	// failures that must cross the wire.
	MessageTypeError byte = 0x04
)

// messageHeaderLength is the fixed header size: 1 byte type + 4 bytes
// payload length.
const messageHeaderLength = 5

// maxPayloadLength bounds a single frame. Console traffic is small;
// 16 MB leaves ample room for bulk input pastes.
const maxPayloadLength = 16 * 1024 * 1024

// Message is a single console protocol frame.
type Message struct {
	Type    byte
	Payload []byte
}

// WriteMessage writes a framed message to w: [1 byte type] [4 bytes
// payload length, big-endian uint32] [payload].
func WriteMessage(w io.Writer, message Message) error {
	var header [messageHeaderLength]byte
	header[0] = message.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(message.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write message header: %w", err)
	}
	if len(message.Payload) > 0 {
		if _, err := w.Write(message.Payload); err != nil {
			return fmt.Errorf("write message payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads one framed message from r. It errors on a
// malformed stream or a payload exceeding maxPayloadLength.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Message{}, fmt.Errorf("payload length %d exceeds maximum %d",
			payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read message payload: %w", err)
		}
	}
	return Message{Type: header[0], Payload: payload}, nil
}

// NewDescriptorMessage encodes a stream descriptor frame.
func NewDescriptorMessage(descriptor StreamDescriptor) (Message, error) {
	payload, err := codec.Marshal(descriptor)
	if err != nil {
		return Message{}, fmt.Errorf("encoding stream descriptor: %w", err)
	}
	return Message{Type: MessageTypeDescriptor, Payload: payload}, nil
}

// ParseDescriptorPayload decodes a descriptor frame's payload.
func ParseDescriptorPayload(payload []byte) (StreamDescriptor, error) {
	var descriptor StreamDescriptor
	if err := codec.Unmarshal(payload, &descriptor); err != nil {
		return StreamDescriptor{}, fmt.Errorf("decoding stream descriptor: %w", err)
	}
	return descriptor, nil
}

// NewDataMessage creates a frame carrying raw console bytes.
func NewDataMessage(data []byte) Message {
	return Message{Type: MessageTypeData, Payload: data}
}

// NewErrorMessage creates a frame carrying an error for the peer.
func NewErrorMessage(err error) (Message, error) {
	payload, merr := codec.Marshal(err.Error())
	if merr != nil {
		return Message{}, fmt.Errorf("encoding error message: %w", merr)
	}
	return Message{Type: MessageTypeError, Payload: payload}, nil
}

// ParseErrorPayload decodes an error frame's payload.
func ParseErrorPayload(payload []byte) (string, error) {
	var message string
	if err := codec.Unmarshal(payload, &message); err != nil {
		return "", fmt.Errorf("decoding error message: %w", err)
	}
	return message, nil
}
