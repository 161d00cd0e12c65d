// Package server wires the resolution pipeline to the wire: it turns
// inbound UDP/TCP DNS queries into pipeline.RequestContext runs and writes
// back whatever pipeline.Chain.Serve returns (spec §4.9). TLS/HTTPS/QUIC/mDNS
// transports are named in spec §6.1 but not implemented here; Transport
// exists so they can be added without touching pipeline.
package server

import (
	"context"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"smartdns/pipeline"
)

// Transport is the abstract "serve DNS on some wire protocol" capability a
// Listener wraps. *dns.Server (UDP, TCP) satisfies it directly; a DoT/DoH/DoQ
// listener would implement the same shape against its own net.Listener.
type Transport interface {
	ListenAndServe() error
	ShutdownContext(ctx context.Context) error
}

// Listener serves one network (udp or tcp) address, feeding every inbound
// query to chain. It mirrors the teacher's server.Server (one *dns.Server,
// one handler closure) generalized from a single fixed upstream call to the
// full middleware chain.
type Listener struct {
	Addr    string
	Net     string // "udp" or "tcp"
	Chain   *pipeline.Chain
	Opts    pipeline.ServerOpts
	Timeout time.Duration // per-query deadline; default 5s

	Log zerolog.Logger

	srv *dns.Server
}

const defaultQueryTimeout = 5 * time.Second

// NewListener builds a Listener bound to addr over network net_ ("udp" or
// "tcp"), running every query through chain with opts attached to its
// RequestContext (spec §6.2's per-bind `-group`/`-no-rule`/`-no-cache`).
func NewListener(net_, addr string, chain *pipeline.Chain, opts pipeline.ServerOpts, log zerolog.Logger) *Listener {
	l := &Listener{Addr: addr, Net: net_, Chain: chain, Opts: opts, Timeout: defaultQueryTimeout, Log: log}
	l.srv = &dns.Server{
		Addr:    addr,
		Net:     net_,
		Handler: dns.HandlerFunc(l.handle),
	}
	return l
}

// ListenAndServe blocks serving queries until Shutdown is called or the
// listener fails to bind.
func (l *Listener) ListenAndServe() error {
	l.Log.Info().Str("net", l.Net).Str("addr", l.Addr).Msg("server: listening")
	return l.srv.ListenAndServe()
}

// Shutdown stops accepting new queries and waits for in-flight ones to
// finish, bounded by ctx.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.ShutdownContext(ctx)
}

func (l *Listener) handle(w dns.ResponseWriter, req *dns.Msg) {
	defer l.recoverToServFail(w, req)

	clientIP := clientAddr(w)
	deadline := time.Now().Add(l.Timeout)
	rc := pipeline.NewRequestContext(req, clientIP, l.Opts, deadline)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	resp, err := l.Chain.Serve(ctx, rc)
	if err != nil {
		l.Log.Warn().Err(err).Str("name", rc.Question.Name).Msg("server: pipeline error")
		resp = pipeline.ServFail(req)
	}
	if resp == nil {
		resp = pipeline.ServFail(req)
	}
	resp.Compress = true
	if writeErr := w.WriteMsg(resp); writeErr != nil {
		l.Log.Warn().Err(writeErr).Str("name", rc.Question.Name).Msg("server: write failed")
	}
}

// recoverToServFail is the one recover() site in the module (spec §7): a
// panicking middleware must not take the whole listener down with it.
func (l *Listener) recoverToServFail(w dns.ResponseWriter, req *dns.Msg) {
	if r := recover(); r != nil {
		l.Log.Error().Interface("panic", r).Msg("server: recovered panic, returning SERVFAIL")
		_ = w.WriteMsg(pipeline.ServFail(req))
	}
}

func clientAddr(w dns.ResponseWriter) netip.Addr {
	addrPort, err := netip.ParseAddrPort(w.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}
	}
	return addrPort.Addr()
}
