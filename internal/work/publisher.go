package work

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// writeTimeout is the maximum time to wait for a publish write.
	writeTimeout = 10 * time.Second

	// maxLineSize bounds inbound lines from downstream subscribers.
	maxLineSize = 16 * 1024
)

// Publisher accepts serialized task messages and signals readiness once a
// downstream consumer can receive them.
type Publisher interface {
	Publish(task *TaskMessage) error
	Ready() <-chan struct{}
}

// LinePublisher serves tasks to downstream consumers as newline-delimited
// JSON over TCP. Readiness fires when the first consumer subscribes.
type LinePublisher struct {
	logger *zap.Logger

	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once

	mu    sync.Mutex
	conns map[net.Conn]*json.Encoder
}

// NewLinePublisher listens on addr for downstream task consumers.
func NewLinePublisher(addr string, logger *zap.Logger) (*LinePublisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &LinePublisher{
		logger: logger,
		ln:     ln,
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]*json.Encoder),
	}, nil
}

// Start accepts subscribers until ctx is cancelled.
func (p *LinePublisher) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.ln.Close()
	}()
	go p.acceptLoop()
}

// Ready returns a channel closed once the first consumer subscribes.
func (p *LinePublisher) Ready() <-chan struct{} {
	return p.ready
}

// Publish sends the task to every subscriber. Individual send failures drop
// that subscriber but never abort the broadcast.
func (p *LinePublisher) Publish(task *TaskMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.conns) == 0 {
		return fmt.Errorf("no subscribers")
	}

	for conn, enc := range p.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := enc.Encode(task); err != nil {
			p.logger.Debug("subscriber write failed, dropping",
				zap.String("addr", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			conn.Close()
			delete(p.conns, conn)
		}
	}
	return nil
}

func (p *LinePublisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}

		p.mu.Lock()
		p.conns[conn] = json.NewEncoder(conn)
		p.mu.Unlock()
		p.readyOnce.Do(func() { close(p.ready) })

		p.logger.Info("task subscriber connected",
			zap.String("addr", conn.RemoteAddr().String()),
		)

		// Drain the read side so we notice disconnects.
		go func(conn net.Conn) {
			scanner := bufio.NewScanner(conn)
			scanner.Buffer(make([]byte, 4096), maxLineSize)
			for scanner.Scan() {
			}
			p.mu.Lock()
			if _, ok := p.conns[conn]; ok {
				conn.Close()
				delete(p.conns, conn)
			}
			p.mu.Unlock()
			p.logger.Debug("task subscriber disconnected",
				zap.String("addr", conn.RemoteAddr().String()),
			)
		}(conn)
	}
}

// Addr returns the listener address, useful when listening on port 0.
func (p *LinePublisher) Addr() net.Addr {
	return p.ln.Addr()
}
