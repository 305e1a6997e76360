package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sender forwards one command to the pipeline transport.
type Sender interface {
	Send(ctx context.Context, cmd Command) error
}

// Flags answers the per-project dispatch feature flag.
type Flags interface {
	DispatchEnabled(ctx context.Context, projectID string) bool
}

const (
	queueDepth  = 1024
	sendTimeout = 5 * time.Second
)

type envelope struct {
	cmd       Command
	onFailure func()
}

// Dispatcher consumes commands off an internal queue and forwards
// them. Notify never blocks the caller: a full queue drops the command
// and counts it as a failure.
type Dispatcher struct {
	sender Sender
	flags  Flags
	log    *slog.Logger

	queue  chan envelope
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func New(sender Sender, flags Flags, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender: sender,
		flags:  flags,
		log:    logger,
		queue:  make(chan envelope, queueDepth),
		done:   make(chan struct{}),
	}
	go d.consume()
	return d
}

// Noop returns a dispatcher that discards every command. Used when
// dispatch transport is configured off.
func Noop() *Dispatcher {
	return &Dispatcher{}
}

// Notify enqueues a command for forwarding. onFailure (optional) runs
// once per command that could not be delivered. A full queue or a
// closed dispatcher drops the command and counts it as a failure.
func (d *Dispatcher) Notify(cmd Command, onFailure func()) {
	if d.queue == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatch closed, dropping command",
			"run_id", cmd.RunID, "command_type", cmd.Type)
		if onFailure != nil {
			onFailure()
		}
		return
	}

	select {
	case d.queue <- envelope{cmd: cmd, onFailure: onFailure}:
	default:
		d.log.Warn("dispatch queue full, dropping command",
			"run_id", cmd.RunID, "command_type", cmd.Type)
		if onFailure != nil {
			onFailure()
		}
	}
}

func (d *Dispatcher) consume() {
	defer close(d.done)
	for env := range d.queue {
		d.forward(env)
	}
}

func (d *Dispatcher) forward(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch send panicked",
				"run_id", env.cmd.RunID, "command_type", env.cmd.Type, "panic", r)
			if env.onFailure != nil {
				env.onFailure()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if d.flags != nil && !d.flags.DispatchEnabled(ctx, env.cmd.ProjectID) {
		return
	}
	if err := d.sender.Send(ctx, env.cmd); err != nil {
		d.log.Warn("dispatch send failed",
			"run_id", env.cmd.RunID, "command_type", env.cmd.Type, "error", err)
		if env.onFailure != nil {
			env.onFailure()
		}
	}
}

// Close stops accepting commands and waits for the queue to drain or
// the context to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.queue == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
