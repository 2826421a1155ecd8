package p2p

import (
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-msgio"
	manet "github.com/multiformats/go-multiaddr/net"

	"go.uber.org/zap"
)

// Peer is one remote endpoint of the transaction gossip protocol. It owns
// the stream, the transactions the remote asked us to remember, and the set
// of hashes the remote has advertised as known.
type Peer struct {
	stream network.Stream
	reader msgio.Reader
	writer msgio.Writer
	tag    string
	logger *zap.Logger

	// writeMu keeps outbound commands strictly FIFO.
	writeMu sync.Mutex

	// rememberedTxs maps display-hex hash to raw transaction bytes the
	// remote asked us to hold on its behalf.
	rememberedTxs map[string][]byte

	// remoteTxHashes is the set of hashes the remote advertised via have_tx.
	remoteTxHashes map[string]struct{}

	// verified is set once the remote's version message passed checks.
	verified bool
}

// NewPeer wraps a freshly opened or accepted stream. The tag is the remote's
// host:port, derived from its multiaddr.
func NewPeer(stream network.Stream, logger *zap.Logger) *Peer {
	tag := stream.Conn().RemoteMultiaddr().String()
	if addr, err := manet.ToNetAddr(stream.Conn().RemoteMultiaddr()); err == nil {
		tag = addr.String()
	}
	return &Peer{
		stream:         stream,
		reader:         msgio.NewVarintReaderSize(stream, maxFrameSize),
		writer:         msgio.NewVarintWriter(stream),
		tag:            tag,
		logger:         logger.With(zap.String("peer", tag)),
		rememberedTxs:  make(map[string][]byte),
		remoteTxHashes: make(map[string]struct{}),
	}
}

// Tag returns the peer's host:port identity.
func (p *Peer) Tag() string {
	return p.tag
}

// Verified reports whether the version handshake completed.
func (p *Peer) Verified() bool {
	return p.verified
}

func (p *Peer) send(cmd string, payload interface{}) error {
	frame, err := EncodeCommand(cmd, payload)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.writer.WriteMsg(frame); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// SendVersion starts or answers the handshake.
func (p *Peer) SendVersion(subVersion string, nonce uint64) error {
	return p.send(CmdVersion, &VersionMsg{
		Version:    ProtocolVersion,
		SubVersion: subVersion,
		Nonce:      nonce,
	})
}

// SendHaveTx advertises known transaction hashes.
func (p *Peer) SendHaveTx(hashes []string) error {
	return p.send(CmdHaveTx, &HaveTxMsg{Hashes: hashes})
}

// SendLosingTx withdraws transaction hashes.
func (p *Peer) SendLosingTx(hashes []string) error {
	return p.send(CmdLosingTx, &LosingTxMsg{Hashes: hashes})
}

// SendRememberTx asks the remote to remember transactions: known ones by
// hash, new ones in full (compressed).
func (p *Peer) SendRememberTx(hashes []string, rawTxs [][]byte) error {
	txs := make([][]byte, len(rawTxs))
	for i, raw := range rawTxs {
		txs[i] = CompressTx(raw)
	}
	return p.send(CmdRememberTx, &RememberTxMsg{Hashes: hashes, Txs: txs})
}

// SendForgetTx releases remembered transactions.
func (p *Peer) SendForgetTx(hashes []string, totalSize int64) error {
	return p.send(CmdForgetTx, &ForgetTxMsg{Hashes: hashes, TotalSize: totalSize})
}

// ReadEnvelope blocks until the next command frame arrives.
func (p *Peer) ReadEnvelope() (*Envelope, error) {
	frame, err := p.reader.ReadMsg()
	if err != nil {
		return nil, err
	}
	defer p.reader.ReleaseMsg(frame)
	return DecodeEnvelope(frame)
}

// Close tears down the stream.
func (p *Peer) Close() error {
	return p.stream.Close()
}

// Reset aborts the stream with prejudice, used on protocol violations.
func (p *Peer) Reset() error {
	return p.stream.Reset()
}
