package pipeline

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestChainShortCircuitsOnFirstResponse(t *testing.T) {
	var secondCalled bool
	chain := NewChain(
		NewHandlerFunc("first", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			m := new(dns.Msg)
			m.SetReply(rc.Request)
			return m, nil
		}),
		NewHandlerFunc("second", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			secondCalled = true
			return nil, nil
		}),
	)

	rc := newQueryContext("example.com", dns.TypeA)
	resp, err := chain.Serve(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.False(t, secondCalled, "chain must stop at the first short-circuiting middleware")
}

func TestChainPassThroughFallsBackToServfail(t *testing.T) {
	chain := NewChain(
		NewHandlerFunc("noop", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			return nil, nil
		}),
	)

	rc := newQueryContext("example.com", dns.TypeA)
	resp, err := chain.Serve(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestChainErrorAborts(t *testing.T) {
	boom := require.New(t)
	chain := NewChain(
		NewHandlerFunc("fails", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			return nil, context.DeadlineExceeded
		}),
	)
	rc := newQueryContext("example.com", dns.TypeA)
	_, err := chain.Serve(context.Background(), rc)
	boom.Error(err)
}

func TestChainSinksRunAfterResponse(t *testing.T) {
	var observed bool
	chain := NewChain(
		NewHandlerFunc("answer", func(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
			m := new(dns.Msg)
			m.SetReply(rc.Request)
			return m, nil
		}),
	).WithSinks(sinkFunc(func(ctx context.Context, rc *RequestContext, resp *dns.Msg) {
		observed = true
	}))

	rc := newQueryContext("example.com", dns.TypeA)
	_, err := chain.Serve(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, observed)
}

type sinkFunc func(ctx context.Context, rc *RequestContext, resp *dns.Msg)

func (f sinkFunc) Observe(ctx context.Context, rc *RequestContext, resp *dns.Msg) { f(ctx, rc, resp) }
