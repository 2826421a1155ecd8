package work

import (
	"context"
	"fmt"

	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/internal/metrics"

	"go.uber.org/zap"
)

// TemplateSource supplies block templates and a refresh fast-path. The
// daemon watcher satisfies it.
type TemplateSource interface {
	Templates() <-chan *daemon.BlockTemplate
	Refresh()
}

// Server turns block templates into tasks and hands them to the publisher.
// Templates repeating the same identity are debounced; templates arriving
// before the publisher is ready are dropped and recovered by the post-ready
// refresh.
type Server struct {
	source  TemplateSource
	builder *Builder
	pub     Publisher
	logger  *zap.Logger

	// onTemplate, when set, observes every accepted template. The peer
	// coordinator hooks its UpdateGbt here.
	onTemplate func(*daemon.BlockTemplate)

	lastKey      string
	lastPrevHash string
	ready        bool
}

// NewServer wires a template source, builder and publisher together.
func NewServer(source TemplateSource, builder *Builder, pub Publisher, onTemplate func(*daemon.BlockTemplate), logger *zap.Logger) *Server {
	return &Server{
		source:     source,
		builder:    builder,
		pub:        pub,
		logger:     logger,
		onTemplate: onTemplate,
	}
}

// Run processes templates until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	readyCh := s.pub.Ready()
	markReady := func() {
		// Readiness fires once; a nil channel never fires again.
		readyCh = nil
		s.ready = true
		// Forget templates dropped while waiting so the refresh is not
		// debounced away.
		s.lastKey = ""
		s.logger.Info("publisher ready, refreshing mining info")
		s.source.Refresh()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-readyCh:
			markReady()
		case tmpl := <-s.source.Templates():
			// A readiness signal pending alongside the template applies first.
			select {
			case <-readyCh:
				markReady()
			default:
			}
			s.onTemplateUpdated(tmpl)
		}
	}
}

// templateKey is the debounce identity of a template.
func templateKey(tmpl *daemon.BlockTemplate) string {
	return fmt.Sprintf("%s/%d/%d/%d", tmpl.PreviousBlockHash, tmpl.Height, tmpl.CurTime, len(tmpl.Transactions))
}

func (s *Server) onTemplateUpdated(tmpl *daemon.BlockTemplate) {
	key := templateKey(tmpl)
	if key == s.lastKey {
		return
	}
	s.lastKey = key

	if s.onTemplate != nil {
		s.onTemplate(tmpl)
	}

	if !s.ready {
		s.logger.Debug("publisher not ready, dropping template",
			zap.Int64("height", tmpl.Height),
		)
		return
	}

	auxRoot, err := AuxMerkleRoot(tmpl.Auxes)
	if err != nil {
		s.logger.Error("aux merkle root failed", zap.Error(err))
		return
	}

	task, err := s.builder.Build(tmpl, auxRoot, len(tmpl.Auxes))
	if err != nil {
		s.logger.Error("task build failed", zap.Error(err))
		return
	}
	metrics.TasksBuilt.Inc()

	// A new previous block obsoletes all outstanding work.
	task.StratumParams.CleanJobs = tmpl.PreviousBlockHash != s.lastPrevHash
	s.lastPrevHash = tmpl.PreviousBlockHash

	if err := s.pub.Publish(task); err != nil {
		s.logger.Warn("task publish failed", zap.Error(err))
		return
	}
	metrics.TasksPublished.Inc()

	s.logger.Info("task published",
		zap.String("task_id", task.TaskID),
		zap.Int64("height", task.Height),
		zap.Bool("clean_jobs", task.StratumParams.CleanJobs),
	)
}
