// Package relay forwards messages received on a bridge stream to an HTTP
// backend.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/bridge"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/client"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/metrics"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/stream"
	"github.com/EmilyShepherd/vumi-bridge-go/types"
	vumi "github.com/EmilyShepherd/vumi-bridge-go/types/vumi/v1"
)

const DefaultDrainTimeout = 10 * time.Second

type Config struct {
	URL string

	// Method defaults to POST.
	Method string

	// DrainTimeout bounds how long Run keeps forwarding queued messages
	// after its context ends. Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Worker decouples the stream from the backend: stream callbacks only
// push onto an unbounded queue, and Run forwards from it one message at a
// time.
type Worker struct {
	client bridge.Doer
	cfg    Config
	queue  *stream.Queue[*vumi.Message]
	log    zerolog.Logger
}

func NewWorker(c bridge.Doer, cfg Config, log zerolog.Logger) *Worker {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Worker{
		client: c,
		cfg:    cfg,
		queue:  stream.NewQueue[*vumi.Message](),
		log:    log.With().Str("relay_url", cfg.URL).Logger(),
	}
}

// Handlers returns stream callbacks that feed this worker.
func (w *Worker) Handlers() bridge.Handlers[vumi.Message, *vumi.Message] {
	return bridge.Handlers[vumi.Message, *vumi.Message]{
		Message: Handoff(w.queue),
		Error: func(err error) {
			w.log.Warn().Err(err).Msg("skipping stream record")
		},
		Disconnect: func(d types.Disconnect) {
			if d.Terminal() {
				w.log.Info().Str("reason", d.Reason).Msg("stream ended")
			}
		},
	}
}

// Handoff returns a message callback that queues each message for a
// consumer on another goroutine. It never blocks the stream.
func Handoff[T any](q *stream.Queue[T]) func(T) error {
	return q.Push
}

// Close stops accepting messages. Run returns once the queue is drained.
func (w *Worker) Close() {
	w.queue.Close()
}

// Pending returns the number of messages waiting to be forwarded.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Run forwards queued messages until the worker is closed and drained,
// or ctx ends. Once ctx ends no more messages are accepted, and those
// already queued are still forwarded for up to DrainTimeout; whatever
// is left after that is dropped and logged.
func (w *Worker) Run(ctx context.Context) error {
	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go w.drainAfter(ctx, sendCtx, cancel)

	for {
		msg, err := w.queue.Next()
		if errors.Is(err, io.EOF) {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if sendCtx.Err() != nil {
			w.log.Warn().Int("dropped", 1+w.queue.Len()).Msg("drain timeout reached, dropping queued messages")
			return ctx.Err()
		}
		w.handle(sendCtx, msg)
	}
}

// drainAfter closes the queue when ctx ends, then cancels in flight and
// remaining sends once the drain timeout passes.
func (w *Worker) drainAfter(ctx, sendCtx context.Context, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-sendCtx.Done():
		return
	}

	w.queue.Close()
	if n := w.queue.Len(); n > 0 {
		w.log.Info().Int("pending", n).Dur("timeout", w.cfg.DrainTimeout).Msg("draining relay queue")
	}

	timer := time.NewTimer(w.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		cancel()
	case <-sendCtx.Done():
	}
}

func (w *Worker) handle(ctx context.Context, msg *vumi.Message) {
	switch {
	case msg.IsUserMessage():
		if err := w.forward(ctx, msg); err != nil {
			w.log.Error().Err(err).Str("message_id", msg.MessageID).Msg("relay failed")
		}
	case msg.IsEvent():
		w.logEvent(msg)
	default:
		w.log.Debug().Str("message_type", string(msg.MessageType)).Msg("ignoring message")
	}
}

func (w *Worker) forward(ctx context.Context, msg *vumi.Message) error {
	body, err := msg.MarshalJSON()
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := w.client.Do(ctx, client.Request{
		Method:      w.cfg.Method,
		URL:         w.cfg.URL,
		ContentType: client.JSONContentType,
		Body:        bytes.NewReader(body),
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RecordRelay(status, time.Since(start), err == nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	w.log.Info().Int("status", status).Str("message_id", msg.MessageID).Msg("relayed message")
	return nil
}

func (w *Worker) logEvent(msg *vumi.Message) {
	switch msg.EventType {
	case vumi.EventAck:
		w.log.Info().Str("user_message_id", msg.UserMessageID).Msg("acknowledgement received")
	case vumi.EventNack:
		w.log.Warn().Str("user_message_id", msg.UserMessageID).Str("reason", msg.NackReason).Msg("message rejected")
	case vumi.EventDeliveryReport:
		w.log.Info().Str("user_message_id", msg.UserMessageID).Str("status", msg.DeliveryStatus).Msg("delivery report received")
	}
}
