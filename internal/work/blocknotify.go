package work

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Ozhiganov/rice/internal/metrics"

	"go.uber.org/zap"
)

// blockNotifyReadTimeout bounds how long a notifier may take to deliver its
// single line.
const blockNotifyReadTimeout = 5 * time.Second

// Refresher is the daemon-watcher surface the listener needs.
type Refresher interface {
	Refresh()
}

// BlockNotifyListener accepts one-shot TCP connections each delivering a
// single block hash. Distinct hashes trigger a daemon refresh; duplicates
// and empty payloads are ignored.
type BlockNotifyListener struct {
	refresher Refresher
	logger    *zap.Logger
	ln        net.Listener

	lastNotifiedHash string
}

// NewBlockNotifyListener starts listening on addr.
func NewBlockNotifyListener(addr string, refresher Refresher, logger *zap.Logger) (*BlockNotifyListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &BlockNotifyListener{
		refresher: refresher,
		logger:    logger,
		ln:        ln,
	}, nil
}

// Start accepts notifications until ctx is cancelled.
func (l *BlockNotifyListener) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	go l.acceptLoop()
	l.logger.Info("block notify listener started",
		zap.String("addr", l.ln.Addr().String()),
	)
}

// Addr returns the listener address.
func (l *BlockNotifyListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *BlockNotifyListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.handleConn(conn)
	}
}

// handleConn reads the single hash a connection carries, then closes it.
// Connections are handled inline: notifications are rare and ordering
// matters more than concurrency.
func (l *BlockNotifyListener) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(blockNotifyReadTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 256), 1024)
	if !scanner.Scan() {
		return
	}

	hash := strings.TrimSpace(scanner.Text())
	if hash == "" || hash == l.lastNotifiedHash {
		return
	}
	l.lastNotifiedHash = hash

	metrics.BlockNotifies.Inc()
	l.logger.Info("block notify", zap.String("hash", hash))
	l.refresher.Refresh()
}
