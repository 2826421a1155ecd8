// Package node glues the subsystems together: it consumes share packets from
// the peer layer and turns them into validated shares.
package node

import (
	"context"

	"github.com/Ozhiganov/rice/internal/metrics"
	"github.com/Ozhiganov/rice/internal/p2p"
	"github.com/Ozhiganov/rice/internal/shares"
	"github.com/Ozhiganov/rice/pkg/util"

	"go.uber.org/zap"
)

// ShareIngest parses and validates share packets received from peers.
type ShareIngest struct {
	packets <-chan *p2p.SharePacket
	out     chan *shares.Share
	logger  *zap.Logger
}

// NewShareIngest creates an ingest stage over the peer share channel.
func NewShareIngest(packets <-chan *p2p.SharePacket, logger *zap.Logger) *ShareIngest {
	return &ShareIngest{
		packets: packets,
		out:     make(chan *shares.Share, 64),
		logger:  logger,
	}
}

// Shares returns the channel of validated shares.
func (si *ShareIngest) Shares() <-chan *shares.Share {
	return si.out
}

// Run consumes packets until ctx is cancelled. Parse failures and invalid
// shares are dropped; neither disturbs the peer that relayed them, since
// gossip provenance is not authorship.
func (si *ShareIngest) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-si.packets:
			share, err := shares.Parse(pkt.Version, pkt.Data)
			if err != nil {
				metrics.SharesInvalid.Inc()
				si.logger.Info("share parse failed",
					zap.Uint64("version", pkt.Version),
					zap.Error(err),
				)
				continue
			}
			if !share.Validity {
				metrics.SharesInvalid.Inc()
				si.logger.Info("invalid share dropped",
					zap.String("hash", share.Hash),
				)
				continue
			}

			metrics.SharesValidated.Inc()
			si.logger.Debug("share validated",
				zap.String("hash", share.Hash),
				zap.Float64("difficulty", util.TargetToDifficulty(share.Target, shares.MaxTarget())),
			)
			select {
			case si.out <- share:
			default:
				si.logger.Warn("share channel full, dropping share",
					zap.String("hash", share.Hash),
				)
			}
		}
	}
}
