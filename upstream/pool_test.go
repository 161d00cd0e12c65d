package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnLimiterBounds(t *testing.T) {
	l := newConnLimiter(1)
	ctx := context.Background()
	require.NoError(t, l.acquire(ctx))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.acquire(shortCtx)
	require.Error(t, err, "second acquire should block until release or ctx deadline")

	l.release()
	require.NoError(t, l.acquire(ctx))
}

func TestConnLimiterUnbounded(t *testing.T) {
	l := newConnLimiter(0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.acquire(ctx))
	}
}

func TestPoolDefaultMaxConns(t *testing.T) {
	udp := &Server{ID: "udp", Proto: ProtocolUDP}
	tcp := &Server{ID: "tcp", Proto: ProtocolTCP}
	require.Equal(t, 0, udp.defaultMaxConns())
	require.Equal(t, 16, tcp.defaultMaxConns())

	capped := &Server{ID: "capped", Proto: ProtocolTCP, MaxConns: 4}
	require.Equal(t, 4, capped.defaultMaxConns())
}
