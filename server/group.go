package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartdns/config"
	"smartdns/pipeline"
)

// Group runs every configured Listener together and reports the first
// listener failure, if any, to its caller (spec §6.2: a config may `bind`
// several addresses/protocols at once).
type Group struct {
	listeners []*Listener
	log       zerolog.Logger

	errOnce sync.Once
	errCh   chan error
}

// NewGroup builds a Group from the given listeners.
func NewGroup(log zerolog.Logger, listeners ...*Listener) *Group {
	return &Group{listeners: listeners, log: log, errCh: make(chan error, 1)}
}

// Run starts every listener concurrently and blocks until one fails or ctx
// is canceled, in which case it shuts every listener down gracefully.
func (g *Group) Run(ctx context.Context) error {
	for _, l := range g.listeners {
		l := l
		go func() {
			if err := l.ListenAndServe(); err != nil {
				g.errOnce.Do(func() { g.errCh <- fmt.Errorf("%s/%s: %w", l.Net, l.Addr, err) })
			}
		}()
	}

	select {
	case <-ctx.Done():
		g.shutdown()
		return ctx.Err()
	case err := <-g.errCh:
		g.shutdown()
		return err
	}
}

func (g *Group) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, l := range g.listeners {
		if err := l.Shutdown(shutdownCtx); err != nil {
			g.log.Warn().Err(err).Str("addr", l.Addr).Msg("server: shutdown error")
		}
	}
}

// BuildGroup constructs one Listener per configured bind directive that
// this rewrite actually serves (UDP and TCP; spec §4.9 — TLS/HTTPS/QUIC
// bindings are rejected here rather than silently ignored, since a config
// expecting one of them deserves a loud failure, not a quietly-missing
// listener).
func BuildGroup(listeners []config.Listener, chain *pipeline.Chain, log zerolog.Logger) (*Group, error) {
	var built []*Listener
	for _, spec := range listeners {
		net_, err := listenerNetwork(spec.Proto)
		if err != nil {
			return nil, fmt.Errorf("server: bind %s: %w", spec.Addr, err)
		}
		opts := pipeline.ServerOpts{Group: spec.Group, NoRule: spec.NoRule, NoCache: spec.NoCache}
		built = append(built, NewListener(net_, spec.Addr, chain, opts, log))
	}
	return NewGroup(log, built...), nil
}

func listenerNetwork(proto config.ListenProto) (string, error) {
	switch proto {
	case config.ListenUDP:
		return "udp", nil
	case config.ListenTCP:
		return "tcp", nil
	default:
		return "", fmt.Errorf("transport not implemented in this build (spec §6.1 names it as external)")
	}
}
