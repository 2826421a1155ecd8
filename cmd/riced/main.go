// Command riced runs the peer-to-peer mining pool coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ozhiganov/rice/internal/config"
	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/internal/metrics"
	"github.com/Ozhiganov/rice/internal/node"
	"github.com/Ozhiganov/rice/internal/p2p"
	"github.com/Ozhiganov/rice/internal/shares"
	"github.com/Ozhiganov/rice/internal/work"
	"github.com/Ozhiganov/rice/pkg/util"

	"go.uber.org/zap"
)

const subVersion = "riced/0.1.0"

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("riced failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Network parameters must be in place before any share is parsed.
	shares.Configure(shares.Params{
		Identifier: []byte{0xfc, 0xc1, 0xb7, 0xdc},
	})

	payoutHash, err := util.HexToBytes(cfg.Address)
	if err != nil {
		return fmt.Errorf("decode payout address: %w", err)
	}
	var pubkeyHash [20]byte
	copy(pubkeyHash[:], payoutHash)

	// Daemon watcher.
	rpc := daemon.NewClient(cfg.Daemon.URL, cfg.Daemon.User, cfg.Daemon.Password, 0)
	watcher := daemon.NewWatcher(rpc, time.Duration(cfg.Daemon.PollIntervalSecs)*time.Second, logger)

	// Peer layer.
	p2pNode, err := p2p.NewNode(ctx, cfg.P2P.ListenPort, cfg.P2P.DataDir, subVersion, logger)
	if err != nil {
		return err
	}
	defer p2pNode.Close()

	if err := p2pNode.StartDiscovery(ctx, cfg.P2P.MDNS, cfg.P2P.Bootnodes, cfg.P2P.DataDir); err != nil {
		return err
	}

	// Task pipeline.
	publisher, err := work.NewLinePublisher(cfg.Publisher.ListenAddr, logger)
	if err != nil {
		return err
	}
	publisher.Start(ctx)

	builder := work.NewBuilder(cfg.ExtranonceSize, util.P2PKHScript(pubkeyHash), "/rice/")
	server := work.NewServer(watcher, builder, publisher, p2pNode.Coordinator.UpdateGbt, logger)
	go server.Run(ctx)

	// Share ingest from peers.
	ingest := node.NewShareIngest(p2pNode.IncomingShares(), logger)
	go ingest.Run(ctx)
	go drainShares(ctx, ingest, logger)

	// Block notify fast path.
	if cfg.BlockNotifyListener.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.BlockNotifyListener.Host, cfg.BlockNotifyListener.Port)
		listener, err := work.NewBlockNotifyListener(addr, watcher, logger)
		if err != nil {
			return err
		}
		listener.Start(ctx)
	}

	// The watcher starts polling regardless; the listener only adds a
	// fast path.
	watcher.Start(ctx)

	go serveMetrics(cfg.MetricsAddr, logger)

	logger.Info("riced started",
		zap.String("daemon", cfg.Daemon.URL),
		zap.Int("p2p_port", cfg.P2P.ListenPort),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// drainShares logs validated peer shares. Share-chain storage is handled
// downstream of this coordinator.
func drainShares(ctx context.Context, ingest *node.ShareIngest, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case share := <-ingest.Shares():
			logger.Info("share accepted",
				zap.String("hash", share.Hash),
				zap.Uint64("version", share.Version),
				zap.Uint32("height", share.Info.AbsHeight),
			)
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
