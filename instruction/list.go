// SPDX-License-Identifier: GPL-3.0-or-later

package instruction

// List is a builder for a sequence of [Instruction].
//
// The zero value is ready to use. A [*List] is not goroutine safe.
type List struct {
	items []Instruction
}

// NewList creates a new [*List] containing the given instructions.
func NewList(items ...Instruction) *List {
	return (&List{}).Add(items...)
}

// Add appends the given instructions.
func (l *List) Add(items ...Instruction) *List {
	l.items = append(l.items, items...)
	return l
}

// ReceiveMessage appends a [ReceiveMessage] using [DefaultMaxSize].
func (l *List) ReceiveMessage() *List {
	return l.Add(ReceiveMessage{})
}

// ReceiveMessageWithMaxSize appends a [ReceiveMessage] keeping
// at most size bytes of the received message.
func (l *List) ReceiveMessageWithMaxSize(size int) *List {
	return l.Add(ReceiveMessage{MaxSize: size})
}

// SendMessage appends a [SendMessage]. The payload is copied.
func (l *List) SendMessage(payload []byte) *List {
	return l.Add(SendMessage{Payload: append([]byte{}, payload...)})
}

// SendMessageDependingOnLastReceivedMessage appends a
// [SendMessageDependingOnLastReceivedMessage] using fx.
func (l *List) SendMessageDependingOnLastReceivedMessage(fx Responder) *List {
	return l.Add(SendMessageDependingOnLastReceivedMessage{Func: fx})
}

// StopExchange appends a [StopExchange].
func (l *List) StopExchange() *List {
	return l.Add(StopExchange{})
}

// Len returns the number of instructions.
func (l *List) Len() int {
	return len(l.items)
}

// Instructions returns a copy of the instructions.
func (l *List) Instructions() []Instruction {
	return append([]Instruction{}, l.items...)
}
