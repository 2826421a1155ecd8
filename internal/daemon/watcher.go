package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PollInterval is how often the watcher checks for new block templates.
const PollInterval = 5 * time.Second

// Watcher polls the daemon for block templates and emits each successfully
// fetched template; a template that finds the channel full is dropped.
// Consumers debounce by template identity themselves.
type Watcher struct {
	rpc      RPC
	logger   *zap.Logger
	interval time.Duration

	templates chan *BlockTemplate
	refreshCh chan struct{}
}

// NewWatcher creates a watcher over the given RPC client.
func NewWatcher(rpc RPC, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Watcher{
		rpc:       rpc,
		logger:    logger,
		interval:  interval,
		templates: make(chan *BlockTemplate, 4),
		refreshCh: make(chan struct{}, 1),
	}
}

// Start begins polling until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.pollLoop(ctx)
}

// Templates returns the channel of fetched block templates.
func (w *Watcher) Templates() <-chan *BlockTemplate {
	return w.templates
}

// Refresh nudges the watcher to fetch immediately, ahead of the next tick.
// Non-blocking; a pending refresh absorbs further calls.
func (w *Watcher) Refresh() {
	select {
	case w.refreshCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var consecutiveFailures int
	var lastFailureTime time.Time

	fetch := func() {
		err := w.fetchTemplate(ctx)
		if err == nil {
			if consecutiveFailures > 0 {
				w.logger.Info("daemon RPC recovered",
					zap.Int("after_failures", consecutiveFailures),
				)
				consecutiveFailures = 0
			}
			return
		}

		// A daemon-side refusal means the daemon is alive: keep the
		// normal cadence. Only transport faults back off.
		if IsDaemonError(err) {
			w.logger.Warn("daemon declined template request", zap.Error(err))
			return
		}

		consecutiveFailures++
		lastFailureTime = time.Now()
		w.logger.Warn("daemon unreachable",
			zap.Error(err),
			zap.Int("consecutive_failures", consecutiveFailures),
			zap.Duration("next_retry", backoffDuration(consecutiveFailures, w.interval)),
		)
	}

	fetch()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.refreshCh:
			fetch()
		case <-ticker.C:
			if consecutiveFailures > 0 && time.Since(lastFailureTime) < backoffDuration(consecutiveFailures, w.interval) {
				continue
			}
			fetch()
		}
	}
}

func (w *Watcher) fetchTemplate(ctx context.Context) error {
	tmpl, err := w.rpc.GetBlockTemplate(ctx)
	if err != nil {
		return err
	}

	select {
	case w.templates <- tmpl:
	default:
		w.logger.Warn("template channel full, dropping template",
			zap.Int64("height", tmpl.Height),
		)
	}
	return nil
}

// backoffDuration computes exponential backoff capped at 60s.
func backoffDuration(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d > 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}
