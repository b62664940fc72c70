//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Instructions executor.
//

package servermock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbmk-project/sockmock/closepool"
	"github.com/rbmk-project/sockmock/exchange"
	"github.com/rbmk-project/sockmock/fifo"
	"github.com/rbmk-project/sockmock/instruction"
)

// State is the state of the executor of a [*Server].
type State int32

const (
	// StateAwaitingConnection means that the executor is waiting
	// for the TCP client to connect.
	StateAwaitingConnection = State(iota)

	// StateAwaitingInstruction means that the executor is waiting
	// for the next instruction.
	StateAwaitingInstruction

	// StateExecuting means that the executor is running an instruction.
	StateExecuting

	// StateStopped is the final state.
	StateStopped
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateAwaitingConnection:
		return "AwaitingConnection"
	case StateAwaitingInstruction:
		return "AwaitingInstruction"
	case StateExecuting:
		return "Executing"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// executor runs the instructions against the client.
type executor struct {
	// cfg is the server config.
	cfg *Config

	// done is closed when the executor is stopped.
	done chan struct{}

	// endpoint is the bound socket.
	endpoint exchange.Endpoint

	// errors is the errors sink.
	errors *fifo.Queue[*Error]

	// instructions is the instruction queue.
	instructions *fifo.Queue[instruction.Instruction]

	// lastMessage is the last received message.
	lastMessage []byte

	// hasLastMessage is true after the first received message.
	hasLastMessage bool

	// messages is the received messages sink.
	messages *fifo.Queue[[]byte]

	// pool tracks the sockets to release on close.
	pool *closepool.Pool

	// state is the current [State].
	state atomic.Int32
}

// newExecutor creates a new [*executor] in [StateAwaitingConnection].
func newExecutor(cfg *Config, endpoint exchange.Endpoint, pool *closepool.Pool) *executor {
	return &executor{
		cfg:          cfg,
		done:         make(chan struct{}),
		endpoint:     endpoint,
		errors:       fifo.New[*Error](),
		instructions: fifo.New[instruction.Instruction](),
		messages:     fifo.New[[]byte](),
		pool:         pool,
	}
}

// State returns the current state.
func (ex *executor) State() State {
	return State(ex.state.Load())
}

// setState sets the current state.
func (ex *executor) setState(s State) {
	ex.state.Store(int32(s))
}

// run runs the executor until [instruction.StopExchange] or until
// the context is done. This method closes done when returning.
func (ex *executor) run(ctx context.Context) {
	defer close(ex.done)
	defer ex.setState(StateStopped)
	defer ex.discardInstructions(ctx)

	ch, err := ex.endpoint.Accept(ctx)
	if err != nil {
		if ctx.Err() == nil {
			ex.errors.Push(newError(opAccept, err))
		}
		return
	}
	defer ch.Close()

	// Close may have released the pool while we were accepting, in
	// which case Add closes the channel and we have nothing to do.
	if err := ex.pool.Add(ch); err != nil {
		ex.record(ctx, opClose, err)
	}
	if ex.pool.Closed() {
		return
	}

	ex.setState(StateAwaitingInstruction)
	for ctx.Err() == nil {
		in, err := ex.instructions.Wait(ctx, ex.cfg.pollInterval())
		if err != nil || ctx.Err() != nil {
			continue // either empty queue or shutdown
		}
		ex.setState(StateExecuting)
		if stop := ex.execute(ctx, ch, in); stop {
			return
		}
		ex.setState(StateAwaitingInstruction)
	}
}

// discardInstructions drops the instructions that will never run.
func (ex *executor) discardInstructions(ctx context.Context) {
	if count := ex.instructions.Clear(); count > 0 && ex.cfg.Logger != nil {
		ex.cfg.Logger.InfoContext(
			ctx,
			"instructionsDiscarded",
			slog.Int("count", count),
			slog.Time("t", ex.cfg.timeNow()),
		)
	}
}

// execute executes the given instruction and returns whether
// the executor should stop.
func (ex *executor) execute(ctx context.Context, ch exchange.Channel, in instruction.Instruction) (stop bool) {
	t0 := ex.cfg.timeNow()
	ex.logInstruction(ctx, "instructionStart", in, slog.Time("t", t0))

	switch in := in.(type) {
	case instruction.ReceiveMessage:
		ex.receive(ctx, ch, in)

	case instruction.SendMessage:
		ex.send(ctx, ch, in.Payload)

	case instruction.SendMessageDependingOnLastReceivedMessage:
		if payload, ok := ex.respond(ctx, in); ok {
			ex.send(ctx, ch, payload)
		}

	case instruction.StopExchange:
		if err := ch.Close(); err != nil {
			ex.record(ctx, opClose, err)
		}
		stop = true
	}

	ex.logInstruction(ctx, "instructionDone", in,
		slog.Bool("stop", stop),
		slog.Time("t0", t0),
		slog.Time("t", ex.cfg.timeNow()),
	)
	return
}

// receive handles [instruction.ReceiveMessage].
func (ex *executor) receive(ctx context.Context, ch exchange.Channel, in instruction.ReceiveMessage) {
	message, err := ch.Receive(ctx, in.Size(), ex.cfg.receiveTimeout())
	if err != nil {
		ex.record(ctx, opReceive, err)
		return
	}
	ex.lastMessage, ex.hasLastMessage = message, true
	ex.messages.Push(append([]byte{}, message...))
}

// send sends the payload to the client.
func (ex *executor) send(ctx context.Context, ch exchange.Channel, payload []byte) {
	if err := ch.Send(ctx, payload); err != nil {
		ex.record(ctx, opSend, err)
	}
}

// respond evaluates the function of a conditional send. A panic
// inside the function is recorded as a [KindInstruction] error.
func (ex *executor) respond(ctx context.Context,
	in instruction.SendMessageDependingOnLastReceivedMessage) (payload []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ex.record(ctx, opRespond, fmt.Errorf("function panicked: %v", r))
			payload, ok = nil, false
		}
	}()
	return in.Respond(ex.lastMessage, ex.hasLastMessage)
}

// record pushes an error into the errors sink unless the error
// has been caused by the server shutting down.
func (ex *executor) record(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	ex.errors.Push(newError(op, err))
}

// logInstruction emits a structured event about an instruction.
func (ex *executor) logInstruction(ctx context.Context,
	msg string, in instruction.Instruction, attrs ...slog.Attr) {
	if ex.cfg.Logger != nil {
		attrs = append(attrs,
			slog.String("instruction", in.String()),
			slog.String("localAddr", ex.endpoint.Addr().String()),
			slog.String("protocol", ex.endpoint.Protocol().String()),
		)
		ex.cfg.Logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}
