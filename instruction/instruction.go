// SPDX-License-Identifier: GPL-3.0-or-later

// Package instruction contains the scripted actions executed by
// a mock server against the client connected to it.
//
// An [Instruction] is one of [ReceiveMessage], [SendMessage],
// [SendMessageDependingOnLastReceivedMessage], and [StopExchange].
// The set is closed: no other type implements [Instruction].
package instruction

import "fmt"

// DefaultMaxSize is the maximum message size used by [ReceiveMessage]
// when MaxSize is not positive. It is the largest UDP payload.
const DefaultMaxSize = 65507

// Instruction is a scripted action.
type Instruction interface {
	fmt.Stringer
	isInstruction()
}

// ReceiveMessage waits for a message from the client.
type ReceiveMessage struct {
	// MaxSize is the maximum number of bytes kept for the
	// message; longer messages are truncated. A zero or
	// negative value means [DefaultMaxSize].
	MaxSize int
}

// Size returns the effective maximum message size.
func (in ReceiveMessage) Size() int {
	if in.MaxSize > 0 {
		return in.MaxSize
	}
	return DefaultMaxSize
}

// String implements [fmt.Stringer].
func (in ReceiveMessage) String() string {
	return fmt.Sprintf("ReceiveMessage(%d)", in.Size())
}

func (ReceiveMessage) isInstruction() {}

// SendMessage writes Payload verbatim to the client.
type SendMessage struct {
	Payload []byte
}

// String implements [fmt.Stringer].
func (in SendMessage) String() string {
	return fmt.Sprintf("SendMessage(%d bytes)", len(in.Payload))
}

func (SendMessage) isInstruction() {}

// Responder computes the message to send given the last received
// message. The last boolean argument is false when nothing has been
// received yet. Returning false means that nothing should be sent.
//
// A Responder must depend on its arguments only.
type Responder func(last []byte, ok bool) ([]byte, bool)

// SendMessageDependingOnLastReceivedMessage sends the output of Func
// applied to the last received message, if any.
type SendMessageDependingOnLastReceivedMessage struct {
	Func Responder
}

// Respond invokes Func with a copy of last. A nil Func sends nothing.
func (in SendMessageDependingOnLastReceivedMessage) Respond(last []byte, ok bool) ([]byte, bool) {
	if in.Func == nil {
		return nil, false
	}
	if ok {
		last = append([]byte{}, last...)
	}
	return in.Func(last, ok)
}

// String implements [fmt.Stringer].
func (SendMessageDependingOnLastReceivedMessage) String() string {
	return "SendMessageDependingOnLastReceivedMessage"
}

func (SendMessageDependingOnLastReceivedMessage) isInstruction() {}

// StopExchange closes the exchange with the client.
type StopExchange struct{}

// String implements [fmt.Stringer].
func (StopExchange) String() string {
	return "StopExchange"
}

func (StopExchange) isInstruction() {}
