package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/bridge"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/client"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/metrics"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/relay"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/stream"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/token"
	"github.com/EmilyShepherd/vumi-bridge-go/types"
	vumi "github.com/EmilyShepherd/vumi-bridge-go/types/vumi/v1"
)

// runBridge opens every configured stream and blocks until all of them
// have disconnected and any relayed messages have been forwarded.
func runBridge(ctx context.Context, cfg Config, log zerolog.Logger) error {
	auth, closeAuth, err := cfg.streamAuth()
	if err != nil {
		return err
	}
	defer closeAuth()

	c, err := newStreamClient(cfg, auth)
	if err != nil {
		return err
	}

	metrics.RegisterMetrics()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	g, ctx := errgroup.WithContext(ctx)

	handlers := logHandlers(log)
	var worker *relay.Worker
	if cfg.Relay.URL != "" {
		relayClient := client.NewClient(client.WithAuth(token.NewBasic(cfg.RelayUsername, cfg.RelayPassword)))
		worker = relay.NewWorker(relayClient, cfg.Relay, log)
		handlers = worker.Handlers()
		g.Go(func() error {
			err := worker.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	handles := make([]*bridge.Handle, 0, len(cfg.URLs()))
	for _, u := range cfg.URLs() {
		handles = append(handles, bridge.Open[vumi.Message, *vumi.Message](ctx, c,
			client.Request{
				Method: cfg.Method,
				URL:    u,
				Header: cfg.Headers.Clone(),
			},
			handlers,
			bridge.WithLogger(log),
			bridge.WithDecoderOptions(stream.WithMaxRecordBytes(cfg.MaxRecordBytes)),
		))
	}

	g.Go(func() error {
		for _, h := range handles {
			<-h.Done()
		}
		if worker != nil {
			worker.Close()
		}
		return nil
	})

	return g.Wait()
}

func newStreamClient(cfg Config, auth token.Provider) (*client.Client, error) {
	opts := []client.Option{client.WithAuth(auth), client.WithUserAgent("vumi-bridge/" + version)}
	if cfg.CAFile != "" {
		return client.NewClientWithCA(cfg.CAFile, opts...)
	}
	return client.NewClient(opts...), nil
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return srv
}

// logHandlers only logs what arrives. Used when no relay is configured.
func logHandlers(log zerolog.Logger) bridge.Handlers[vumi.Message, *vumi.Message] {
	return bridge.Handlers[vumi.Message, *vumi.Message]{
		Message: func(m *vumi.Message) error {
			ev := log.Info().Str("message_type", string(m.MessageType))
			if m.MessageID != "" {
				ev = ev.Str("message_id", m.MessageID)
			}
			if m.Content != nil {
				ev = ev.Str("content", *m.Content)
			}
			ev.Msg("message received")
			return nil
		},
		Error: func(err error) {
			log.Warn().Err(err).Msg("stream error")
		},
		Disconnect: func(d types.Disconnect) {
			log.Debug().Str("event", d.String()).Msg("stream event")
		},
	}
}
