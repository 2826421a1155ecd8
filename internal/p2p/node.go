// Package p2p implements the peer layer: the transaction-awareness gossip
// protocol between pool nodes and the share broadcast channel.
package p2p

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Node manages the libp2p host, the gossip coordinator and share pubsub.
type Node struct {
	Host        host.Host
	Coordinator *Coordinator
	Logger      *zap.Logger

	pubsub    *PubSub
	discovery *Discovery
	addrBook  *AddrBook

	incomingShares chan *SharePacket
	peerConnected  chan peer.ID
}

// NewNode creates the libp2p host, registers the tx-gossip stream handler
// and joins the share topic. Discovery starts separately via StartDiscovery
// so handlers are in place before peers connect.
func NewNode(ctx context.Context, listenPort int, dataDir string, subVersion string, logger *zap.Logger) (*Node, error) {
	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)

	privKey, err := loadNodeIdentity(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 100, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	addrBook, err := OpenAddrBook(dataDir)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("open addr book: %w", err)
	}

	node := &Node{
		Host:           h,
		Coordinator:    NewCoordinator(subVersion, rand.Uint64(), logger),
		Logger:         logger,
		addrBook:       addrBook,
		incomingShares: make(chan *SharePacket, 256),
		peerConnected:  make(chan peer.ID, 16),
	}

	h.SetStreamHandler(protocol.ID(TxProtocolID), func(stream network.Stream) {
		p := NewPeer(stream, logger)
		go node.Coordinator.HandlePeer(p)
	})

	// Record connections for the address book and outbound gossip dials.
	h.Network().Notify(&peerNotifiee{node: node})

	node.pubsub, err = NewPubSub(ctx, h, node.incomingShares, logger)
	if err != nil {
		h.Close()
		addrBook.Close()
		return nil, fmt.Errorf("setup pubsub: %w", err)
	}

	go node.dialLoop(ctx)

	logger.Info("p2p node started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("port", listenPort),
	)
	for _, addr := range h.Addrs() {
		logger.Info("listening on", zap.String("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())))
	}

	return node, nil
}

// StartDiscovery begins mDNS and DHT peer discovery. Must be called after
// the node is fully wired.
func (n *Node) StartDiscovery(ctx context.Context, enableMDNS bool, bootnodes []string, dataDir string) error {
	// Previously seen peers are redialed alongside the configured bootnodes.
	stored, err := n.addrBook.List()
	if err != nil {
		n.Logger.Warn("addr book read failed", zap.Error(err))
	}
	bootnodes = append(append([]string(nil), bootnodes...), stored...)

	n.discovery, err = NewDiscovery(ctx, n.Host, enableMDNS, bootnodes, dataDir, n.Logger)
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}
	return nil
}

// dialLoop opens the tx-gossip stream to every newly connected peer.
func (n *Node) dialLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pid := <-n.peerConnected:
			stream, err := n.Host.NewStream(ctx, pid, protocol.ID(TxProtocolID))
			if err != nil {
				n.Logger.Debug("open gossip stream failed",
					zap.String("peer", pid.String()), zap.Error(err))
				continue
			}
			p := NewPeer(stream, n.Logger)
			go n.Coordinator.HandlePeer(p)
		}
	}
}

// IncomingShares returns the channel of share packets received from peers.
func (n *Node) IncomingShares() <-chan *SharePacket {
	return n.incomingShares
}

// BroadcastShare publishes a serialized share to the network.
func (n *Node) BroadcastShare(pkt *SharePacket) error {
	return n.pubsub.PublishShare(pkt)
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return len(n.Host.Network().Peers())
}

// Close shuts down the node.
func (n *Node) Close() error {
	err := n.Host.Close()
	if cerr := n.addrBook.Close(); err == nil {
		err = cerr
	}
	return err
}

// peerNotifiee reacts to new connections: remembers the address and nudges
// the dial loop.
type peerNotifiee struct {
	node *Node
}

func (pn *peerNotifiee) Connected(_ network.Network, conn network.Conn) {
	addr := fmt.Sprintf("%s/p2p/%s", conn.RemoteMultiaddr(), conn.RemotePeer())
	if err := pn.node.addrBook.Put(addr); err != nil {
		pn.node.Logger.Debug("addr book write failed", zap.Error(err))
	}

	// Only the dialing side opens the gossip stream, otherwise both ends
	// race to create duplicate peers for the same connection.
	if conn.Stat().Direction != network.DirOutbound {
		return
	}
	select {
	case pn.node.peerConnected <- conn.RemotePeer():
	default:
	}
}

func (pn *peerNotifiee) Disconnected(network.Network, network.Conn) {}
func (pn *peerNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (pn *peerNotifiee) ListenClose(network.Network, ma.Multiaddr) {}
