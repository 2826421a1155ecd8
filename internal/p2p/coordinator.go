package p2p

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/internal/metrics"
	"github.com/Ozhiganov/rice/pkg/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxKnownTxsCaches bounds the ring of recently forgotten transaction
// snapshots kept to absorb reordering between losing_tx and remember_tx.
const maxKnownTxsCaches = 10

// ProtocolError marks a fatal peer fault: the offending peer is reset and
// removed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// Coordinator aggregates the shared transaction view across all peers and
// gossips differential updates. All state is guarded by a single lock; change
// listeners run synchronously while it is held, so a commit's broadcast
// completes before the committing operation returns.
type Coordinator struct {
	logger     *zap.Logger
	subVersion string
	nonce      uint64

	mu        sync.Mutex
	peers     map[string]*Peer
	knownTxs  *TxMap
	miningTxs *TxMap
	// knownTxsCaches holds snapshots of recently removed entries, most
	// recent last.
	knownTxsCaches []map[string]daemon.TemplateTransaction

	limiters map[string]*rate.Limiter
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(subVersion string, nonce uint64, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		logger:     logger,
		subVersion: subVersion,
		nonce:      nonce,
		peers:      make(map[string]*Peer),
		limiters:   make(map[string]*rate.Limiter),
	}
	c.knownTxs = NewTxMap(c.onKnownTxsChange)
	c.miningTxs = NewTxMap(c.onMiningTxsChange)
	return c
}

// KnownTxs returns a snapshot of the shared known-transaction view.
func (c *Coordinator) KnownTxs() map[string]daemon.TemplateTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knownTxs.Snapshot()
}

// MiningTxs returns a snapshot of the current mining-transaction set.
func (c *Coordinator) MiningTxs() map[string]daemon.TemplateTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.miningTxs.Snapshot()
}

// PeerCount returns the number of registered peers.
func (c *Coordinator) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Peer returns the registered peer with the given tag, or nil.
func (c *Coordinator) Peer(tag string) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[tag]
}

// CacheDepth returns the current number of forgotten-tx snapshots.
func (c *Coordinator) CacheDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.knownTxsCaches)
}

// HandlePeer runs the full lifecycle of one peer: handshake, registration,
// read loop, removal. It blocks until the peer goes away.
func (c *Coordinator) HandlePeer(p *Peer) {
	if err := c.handshake(p); err != nil {
		p.logger.Debug("handshake failed", zap.Error(err))
		p.Reset()
		return
	}

	if !c.register(p) {
		p.logger.Debug("duplicate peer tag, dropping stream")
		p.Close()
		return
	}
	defer c.remove(p, "stream ended")

	c.onVersionVerified(p)
	c.readLoop(p)
}

func (c *Coordinator) handshake(p *Peer) error {
	if err := p.SendVersion(c.subVersion, c.nonce); err != nil {
		return err
	}

	env, err := p.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if env.Cmd != CmdVersion {
		return fmt.Errorf("expected version, got %q", env.Cmd)
	}

	var msg VersionMsg
	if err := DecodePayload(env, &msg); err != nil {
		return err
	}
	if msg.Version < minProtocolVersion {
		return fmt.Errorf("peer version %d too old", msg.Version)
	}
	if msg.Nonce == c.nonce {
		return errors.New("connected to self")
	}

	p.verified = true
	p.logger.Info("peer version verified",
		zap.Int("version", msg.Version),
		zap.String("sub_version", msg.SubVersion),
	)
	return nil
}

func (c *Coordinator) register(p *Peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[p.tag]; ok {
		return false
	}
	c.peers[p.tag] = p
	c.limiters[p.tag] = rate.NewLimiter(50, 200)
	metrics.PeersConnected.Set(float64(len(c.peers)))
	return true
}

func (c *Coordinator) remove(p *Peer, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers[p.tag] != p {
		return
	}
	delete(c.peers, p.tag)
	delete(c.limiters, p.tag)
	metrics.PeersConnected.Set(float64(len(c.peers)))
	p.logger.Debug("peer removed", zap.String("reason", reason))
	p.Close()
}

// onVersionVerified brings a fresh peer up to date: everything we know,
// then everything we are mining.
func (c *Coordinator) onVersionVerified(p *Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := c.knownTxs.Value()
	hashes := make([]string, 0, len(known))
	for h := range known {
		hashes = append(hashes, h)
	}
	if err := p.SendHaveTx(hashes); err != nil {
		p.logger.Debug("initial have_tx failed", zap.Error(err))
		return
	}

	mining := c.miningTxs.Value()
	raw := make([][]byte, 0, len(mining))
	for _, tx := range mining {
		b, err := util.HexToBytes(tx.Data)
		if err != nil {
			continue
		}
		raw = append(raw, b)
	}
	if err := p.SendRememberTx(nil, raw); err != nil {
		p.logger.Debug("initial remember_tx failed", zap.Error(err))
	}
}

func (c *Coordinator) readLoop(p *Peer) {
	for {
		env, err := p.ReadEnvelope()
		if err != nil {
			p.logger.Debug("read ended", zap.Error(err))
			return
		}

		if err := c.handleCommand(p, env); err != nil {
			var pv *ProtocolError
			if errors.As(err, &pv) {
				metrics.ProtocolViolations.Inc()
				p.logger.Warn("protocol violation, disconnecting",
					zap.String("reason", pv.Reason),
				)
				c.remove(p, pv.Reason)
				p.Reset()
				return
			}
			p.logger.Debug("command failed", zap.String("cmd", env.Cmd), zap.Error(err))
		}
	}
}

func (c *Coordinator) handleCommand(p *Peer, env *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lim := c.limiters[p.tag]; lim != nil && !lim.Allow() {
		return &ProtocolError{Reason: "command rate exceeded"}
	}

	switch env.Cmd {
	case CmdHaveTx:
		var msg HaveTxMsg
		if err := DecodePayload(env, &msg); err != nil {
			return err
		}
		for _, h := range msg.Hashes {
			p.remoteTxHashes[h] = struct{}{}
		}
		return nil

	case CmdLosingTx:
		var msg LosingTxMsg
		if err := DecodePayload(env, &msg); err != nil {
			return err
		}
		for _, h := range msg.Hashes {
			delete(p.remoteTxHashes, h)
		}
		return nil

	case CmdRememberTx:
		var msg RememberTxMsg
		if err := DecodePayload(env, &msg); err != nil {
			return err
		}
		return c.handleRememberTx(p, &msg)

	case CmdForgetTx:
		var msg ForgetTxMsg
		if err := DecodePayload(env, &msg); err != nil {
			return err
		}
		for _, h := range msg.Hashes {
			delete(p.rememberedTxs, h)
		}
		return nil

	default:
		// Unknown commands are ignored for forward compatibility.
		return nil
	}
}

// handleRememberTx applies a remember_tx command. A hash referenced twice in
// one call, a hash already remembered, or a hash we cannot resolve is a
// protocol violation. Called with the lock held.
func (c *Coordinator) handleRememberTx(p *Peer, msg *RememberTxMsg) error {
	working := c.knownTxs.Snapshot()
	seen := make(map[string]struct{}, len(msg.Hashes))

	for _, h := range msg.Hashes {
		if _, dup := seen[h]; dup {
			return &ProtocolError{Reason: "hash referenced twice in remember_tx"}
		}
		seen[h] = struct{}{}
		if _, dup := p.rememberedTxs[h]; dup {
			return &ProtocolError{Reason: "remember_tx for already remembered hash"}
		}

		tx, ok := c.lookupTx(h)
		if !ok {
			return &ProtocolError{Reason: "remember_tx references unknown hash " + h}
		}
		raw, err := util.HexToBytes(tx.Data)
		if err != nil {
			return fmt.Errorf("stored tx %s has bad hex: %w", h, err)
		}
		p.rememberedTxs[h] = raw
	}

	for _, compressed := range msg.Txs {
		raw, err := DecompressTx(compressed)
		if err != nil {
			return &ProtocolError{Reason: "undecodable transaction payload"}
		}
		if len(raw) > maxTxSize {
			return &ProtocolError{Reason: "transaction payload too large"}
		}

		h := util.HashToHex(util.DoubleSHA256(raw))
		if _, dup := p.rememberedTxs[h]; dup {
			return &ProtocolError{Reason: "duplicate transaction in remember_tx"}
		}
		p.rememberedTxs[h] = raw
		working[h] = daemon.TemplateTransaction{
			TxID: h,
			Hash: h,
			Data: hex.EncodeToString(raw),
		}
	}

	// Commit; the diff broadcast fires synchronously.
	c.knownTxs.Set(working)
	return nil
}

// lookupTx resolves a hash against knownTxs or, failing that, the forgotten
// snapshots, most recent first. Called with the lock held.
func (c *Coordinator) lookupTx(hash string) (daemon.TemplateTransaction, bool) {
	if tx, ok := c.knownTxs.Value()[hash]; ok {
		return tx, true
	}
	for i := len(c.knownTxsCaches) - 1; i >= 0; i-- {
		if tx, ok := c.knownTxsCaches[i][hash]; ok {
			return tx, true
		}
	}
	return daemon.TemplateTransaction{}, false
}

// onKnownTxsChange broadcasts the known-tx diff and records removed entries
// in the forgotten ring. Runs with the lock held, synchronously inside Set.
func (c *Coordinator) onKnownTxsChange(old, new map[string]daemon.TemplateTransaction) {
	added := diffKeys(new, old)
	removed := diffKeys(old, new)

	if len(added) > 0 {
		for _, p := range c.peers {
			if err := p.SendHaveTx(added); err != nil {
				p.logger.Debug("have_tx broadcast failed", zap.Error(err))
			}
		}
	}

	if len(removed) > 0 {
		for _, p := range c.peers {
			if err := p.SendLosingTx(removed); err != nil {
				p.logger.Debug("losing_tx broadcast failed", zap.Error(err))
			}
		}

		snapshot := make(map[string]daemon.TemplateTransaction, len(removed))
		for _, h := range removed {
			snapshot[h] = old[h]
		}
		c.knownTxsCaches = append(c.knownTxsCaches, snapshot)
		if len(c.knownTxsCaches) > maxKnownTxsCaches {
			c.knownTxsCaches = c.knownTxsCaches[1:]
		}
	}

	metrics.KnownTxs.Set(float64(len(new)))
	metrics.ForgottenTxCaches.Set(float64(len(c.knownTxsCaches)))
}

// onMiningTxsChange sends each peer a remember_tx for additions (by hash when
// the remote already knows the transaction, in full otherwise) and a
// forget_tx for removals. Runs with the lock held, synchronously inside Set.
func (c *Coordinator) onMiningTxsChange(old, new map[string]daemon.TemplateTransaction) {
	added := diffKeys(new, old)
	removed := diffKeys(old, new)

	for _, p := range c.peers {
		if len(added) > 0 {
			var hashes []string
			var rawTxs [][]byte
			for _, k := range added {
				tx := new[k]
				if _, known := p.remoteTxHashes[k]; known {
					hashes = append(hashes, k)
					continue
				}
				raw, err := util.HexToBytes(tx.Data)
				if err != nil {
					p.logger.Warn("mining tx has bad hex", zap.String("tx", k))
					continue
				}
				rawTxs = append(rawTxs, raw)
			}
			if err := p.SendRememberTx(hashes, rawTxs); err != nil {
				p.logger.Debug("remember_tx broadcast failed", zap.Error(err))
			}
		}

		if len(removed) > 0 {
			var totalSize int64
			for _, k := range removed {
				totalSize += int64(len(old[k].Data) / 2)
			}
			if err := p.SendForgetTx(removed, totalSize); err != nil {
				p.logger.Debug("forget_tx broadcast failed", zap.Error(err))
			}
		}
	}

	metrics.MiningTxs.Set(float64(len(new)))
}

// UpdateGbt refreshes the mining-transaction set from a block template and
// merges the template's transactions into the shared known view. The known
// view commits first so have_tx precedes remember_tx for fresh transactions.
func (c *Coordinator) UpdateGbt(tmpl *daemon.BlockTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mining := make(map[string]daemon.TemplateTransaction, len(tmpl.Transactions))
	known := c.knownTxs.Snapshot()
	for _, tx := range tmpl.Transactions {
		key := tx.Key()
		mining[key] = tx
		known[key] = tx
	}

	c.knownTxs.Set(known)
	c.miningTxs.Set(mining)
}
