package p2p

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/Ozhiganov/rice/internal/daemon"
	"github.com/Ozhiganov/rice/pkg/util"
	"github.com/Ozhiganov/rice/testutil"

	"go.uber.org/zap"
)

// newTestHost creates a libp2p host on an ephemeral local port for testing.
func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("create test host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// serveCoordinator registers coord as the tx-gossip handler on h.
func serveCoordinator(t *testing.T, h host.Host, coord *Coordinator) {
	t.Helper()
	h.SetStreamHandler(protocol.ID(TxProtocolID), func(stream network.Stream) {
		p := NewPeer(stream, zap.NewNop())
		go coord.HandlePeer(p)
	})
}

// scriptedPeer dials coord's host, completes the handshake, and collects
// every envelope it receives.
func scriptedPeer(t *testing.T, from, to host.Host) (*Peer, <-chan *Envelope) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	from.Peerstore().AddAddrs(to.ID(), to.Addrs(), peerstore.PermanentAddrTTL)

	stream, err := from.NewStream(ctx, to.ID(), protocol.ID(TxProtocolID))
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	p := NewPeer(stream, zap.NewNop())
	if err := p.SendVersion("scripted", 0xdead); err != nil {
		t.Fatalf("send version: %v", err)
	}

	envelopes := make(chan *Envelope, 32)
	go func() {
		defer close(envelopes)
		for {
			env, err := p.ReadEnvelope()
			if err != nil {
				return
			}
			envelopes <- env
		}
	}()

	return p, envelopes
}

// nextCommand waits for the next envelope with the given command, skipping
// others.
func nextCommand(t *testing.T, envelopes <-chan *Envelope, cmd string) *Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", cmd)
			}
			if env.Cmd == cmd {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", cmd)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func templateTx(seed byte, size int) daemon.TemplateTransaction {
	return testutil.SampleTemplateTx(seed, size)
}

func TestGossipNewMiningTx(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	_, envelopes := scriptedPeer(t, hostB, hostA)

	// Handshake completes with the initial state dump.
	nextCommand(t, envelopes, CmdHaveTx)
	nextCommand(t, envelopes, CmdRememberTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	tx := templateTx(0x41, 120)
	coordA.UpdateGbt(&daemon.BlockTemplate{
		Transactions: []daemon.TemplateTransaction{tx},
	})

	// knownTxs diff first: have_tx with the new hash.
	env := nextCommand(t, envelopes, CmdHaveTx)
	var have HaveTxMsg
	if err := DecodePayload(env, &have); err != nil {
		t.Fatalf("decode have_tx: %v", err)
	}
	if len(have.Hashes) != 1 || have.Hashes[0] != tx.TxID {
		t.Errorf("have_tx hashes = %v, want [%s]", have.Hashes, tx.TxID)
	}

	// Then the mining diff: the full transaction, since the scripted peer
	// never advertised it.
	env = nextCommand(t, envelopes, CmdRememberTx)
	var rem RememberTxMsg
	if err := DecodePayload(env, &rem); err != nil {
		t.Fatalf("decode remember_tx: %v", err)
	}
	if len(rem.Hashes) != 0 {
		t.Errorf("remember_tx hashes = %v, want none", rem.Hashes)
	}
	if len(rem.Txs) != 1 {
		t.Fatalf("remember_tx txs = %d, want 1", len(rem.Txs))
	}
	raw, err := DecompressTx(rem.Txs[0])
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if util.BytesToHex(raw) != tx.Data {
		t.Error("remember_tx carried wrong transaction bytes")
	}
}

func TestForgetTxAccounting(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	_, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	nextCommand(t, envelopes, CmdRememberTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	// Hex data lengths 200 and 300: 100 and 150 raw bytes.
	tx1 := templateTx(0x01, 100)
	tx2 := templateTx(0x02, 150)
	coordA.UpdateGbt(&daemon.BlockTemplate{
		Transactions: []daemon.TemplateTransaction{tx1, tx2},
	})
	nextCommand(t, envelopes, CmdRememberTx)

	// The next template drops both.
	coordA.UpdateGbt(&daemon.BlockTemplate{})

	env := nextCommand(t, envelopes, CmdForgetTx)
	var forget ForgetTxMsg
	if err := DecodePayload(env, &forget); err != nil {
		t.Fatalf("decode forget_tx: %v", err)
	}
	if len(forget.Hashes) != 2 {
		t.Errorf("forget_tx hashes = %v, want both", forget.Hashes)
	}
	if forget.TotalSize != 250 {
		t.Errorf("forget_tx total size = %d, want 250", forget.TotalSize)
	}
}

func TestRememberTxFromPeer(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	p, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	raw := bytes.Repeat([]byte{0x77}, 64)
	hash := util.HashToHex(util.DoubleSHA256(raw))
	if err := p.SendRememberTx(nil, [][]byte{raw}); err != nil {
		t.Fatalf("send remember_tx: %v", err)
	}

	waitFor(t, "tx in known set", func() bool {
		_, ok := coordA.KnownTxs()[hash]
		return ok
	})
}

func TestProtocolViolationUnknownHash(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	p, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	if err := p.SendRememberTx([]string{"ff00ff00"}, nil); err != nil {
		t.Fatalf("send remember_tx: %v", err)
	}

	waitFor(t, "peer removal", func() bool { return coordA.PeerCount() == 0 })
}

func TestSelfConnectionRejected(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	// Both ends share a nonce, as a self-connection would.
	coordA := NewCoordinator("test/a", 0xdead, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	scriptedPeer(t, hostB, hostA)
	time.Sleep(100 * time.Millisecond)
	if coordA.PeerCount() != 0 {
		t.Error("self-connection should not register")
	}
}

func TestKnownTxsCacheWindow(t *testing.T) {
	c := NewCoordinator("test", 1, zap.NewNop())

	// Seed 12 known transactions.
	seeded := make([]daemon.TemplateTransaction, 12)
	current := make(map[string]daemon.TemplateTransaction)
	for i := range seeded {
		seeded[i] = templateTx(byte(i+1), 40)
		current[seeded[i].TxID] = seeded[i]
	}
	c.mu.Lock()
	c.knownTxs.Set(current)
	c.mu.Unlock()

	// Eleven mutations, each removing one distinct hash.
	for i := 0; i < 11; i++ {
		next := c.knownTxs.Snapshot()
		delete(next, seeded[i].TxID)
		c.mu.Lock()
		c.knownTxs.Set(next)
		c.mu.Unlock()
	}

	if depth := c.CacheDepth(); depth != maxKnownTxsCaches {
		t.Fatalf("cache depth = %d, want %d", depth, maxKnownTxsCaches)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The first removal has been evicted from the ring.
	if _, ok := c.lookupTx(seeded[0].TxID); ok {
		t.Error("oldest snapshot should have been dropped")
	}
	// The ten most recent removals are still resolvable.
	for i := 1; i < 11; i++ {
		if _, ok := c.lookupTx(seeded[i].TxID); !ok {
			t.Errorf("removal %d should still be cached", i)
		}
	}
}

func TestHaveTxUpdatesRemoteSet(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	p, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	nextCommand(t, envelopes, CmdRememberTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	tx := templateTx(0x09, 80)
	if err := p.SendHaveTx([]string{tx.TxID}); err != nil {
		t.Fatalf("send have_tx: %v", err)
	}

	waitFor(t, "remote set update", func() bool {
		c := coordA
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, reg := range c.peers {
			if _, ok := reg.remoteTxHashes[tx.TxID]; ok {
				return true
			}
		}
		return false
	})

	// A remote that already advertised the hash gets remember_tx by hash.
	coordA.UpdateGbt(&daemon.BlockTemplate{
		Transactions: []daemon.TemplateTransaction{tx},
	})
	env := nextCommand(t, envelopes, CmdRememberTx)
	var rem RememberTxMsg
	if err := DecodePayload(env, &rem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rem.Hashes) != 1 || rem.Hashes[0] != tx.TxID {
		t.Errorf("remember_tx hashes = %v, want [%s]", rem.Hashes, tx.TxID)
	}
	if len(rem.Txs) != 0 {
		t.Errorf("remember_tx txs = %d, want 0", len(rem.Txs))
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	p, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	if err := p.send("future_command", &HaveTxMsg{Hashes: []string{"aa"}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Still connected and responsive afterwards.
	time.Sleep(100 * time.Millisecond)
	if coordA.PeerCount() != 1 {
		t.Error("unknown command should not disconnect the peer")
	}
}

func TestPeerTagFormat(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	coordA := NewCoordinator("test/a", 1, zap.NewNop())
	serveCoordinator(t, hostA, coordA)

	_, envelopes := scriptedPeer(t, hostB, hostA)
	nextCommand(t, envelopes, CmdHaveTx)
	waitFor(t, "peer registration", func() bool { return coordA.PeerCount() == 1 })

	coordA.mu.Lock()
	defer coordA.mu.Unlock()
	for tag, reg := range coordA.peers {
		if reg.Tag() != tag {
			t.Errorf("registered tag %q != peer tag %q", tag, reg.Tag())
		}
		var hostPart string
		var portPart int
		if _, err := fmt.Sscanf(tag, "%s", &hostPart); err != nil || hostPart == "" {
			t.Errorf("tag %q is empty", tag)
		}
		if _, err := fmt.Sscanf(tag[len("127.0.0.1:"):], "%d", &portPart); err != nil || portPart == 0 {
			t.Errorf("tag %q does not end in a port", tag)
		}
	}
}

func TestUpdateGbtMergesKnownTxs(t *testing.T) {
	c := NewCoordinator("test", 1, zap.NewNop())

	tx1 := templateTx(0x21, 60)
	tx2 := templateTx(0x22, 70)
	c.UpdateGbt(&daemon.BlockTemplate{
		Transactions: []daemon.TemplateTransaction{tx1, tx2},
	})

	known := c.KnownTxs()
	for _, tx := range []daemon.TemplateTransaction{tx1, tx2} {
		if _, ok := known[tx.Key()]; !ok {
			t.Errorf("known txs missing %s after UpdateGbt", tx.Key())
		}
	}
	mining := c.MiningTxs()
	if len(mining) != 2 {
		t.Errorf("mining txs = %d, want 2", len(mining))
	}

	// The next template keeps tx1 only: known retains both, mining shrinks.
	c.UpdateGbt(&daemon.BlockTemplate{
		Transactions: []daemon.TemplateTransaction{tx1},
	})
	if _, ok := c.KnownTxs()[tx2.Key()]; !ok {
		t.Error("known txs should retain transactions dropped from mining")
	}
	if len(c.MiningTxs()) != 1 {
		t.Errorf("mining txs = %d, want 1", len(c.MiningTxs()))
	}
}
