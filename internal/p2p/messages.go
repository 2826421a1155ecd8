package p2p

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// ProtocolVersion is the current peer protocol version.
	ProtocolVersion = 1700

	// minProtocolVersion is the oldest version we will talk to.
	minProtocolVersion = 1600

	// TxProtocolID is the stream protocol for transaction gossip commands.
	TxProtocolID = "/rice/tx/1.0.0"

	// ShareTopicName is the GossipSub topic for share propagation.
	ShareTopicName = "/rice/shares/1.0.0"
)

const (
	// maxFrameSize caps a single command frame on the wire.
	maxFrameSize = 4 * 1024 * 1024
	// maxHashesPerMsg caps the hash lists carried by a single command.
	maxHashesPerMsg = 50000
	// maxTxSize caps one decompressed transaction.
	maxTxSize = 1024 * 1024
)

// Command names. Unrecognized commands are ignored, not fatal.
const (
	CmdVersion    = "version"
	CmdHaveTx     = "have_tx"
	CmdLosingTx   = "losing_tx"
	CmdRememberTx = "remember_tx"
	CmdForgetTx   = "forget_tx"
)

// Envelope wraps every command on the tx-gossip stream.
type Envelope struct {
	Cmd     string          `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

// VersionMsg is the handshake, sent first on every new stream.
type VersionMsg struct {
	Version    int    `cbor:"1,keyasint"`
	SubVersion string `cbor:"2,keyasint"`
	Nonce      uint64 `cbor:"3,keyasint"`
}

// HaveTxMsg advertises transaction hashes the sender knows.
type HaveTxMsg struct {
	Hashes []string `cbor:"1,keyasint"`
}

// LosingTxMsg withdraws previously advertised transaction hashes.
type LosingTxMsg struct {
	Hashes []string `cbor:"1,keyasint"`
}

// RememberTxMsg asks the receiver to remember transactions on the sender's
// behalf: by hash for transactions the receiver already knows, in full
// (zstd-compressed raw bytes) otherwise.
type RememberTxMsg struct {
	Hashes []string `cbor:"1,keyasint"`
	Txs    [][]byte `cbor:"2,keyasint"`
}

// ForgetTxMsg releases remembered transactions. TotalSize is the summed
// byte size of the forgotten transactions, for accounting.
type ForgetTxMsg struct {
	Hashes    []string `cbor:"1,keyasint"`
	TotalSize int64    `cbor:"2,keyasint"`
}

// SharePacket is a share broadcast via GossipSub: the version plus the
// §-canonical share body, exactly as serialized by the shares codec.
type SharePacket struct {
	Version uint64 `cbor:"1,keyasint"`
	Data    []byte `cbor:"2,keyasint"`
}

// EncodeCommand wraps a payload struct in an Envelope and encodes it.
func EncodeCommand(cmd string, payload interface{}) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
	}
	return cbor.Marshal(&Envelope{Cmd: cmd, Payload: raw})
}

// DecodeEnvelope decodes a command frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodePayload decodes an envelope payload into out, applying the shared
// sanity caps.
func DecodePayload(env *Envelope, out interface{}) error {
	if err := cbor.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Cmd, err)
	}

	switch m := out.(type) {
	case *HaveTxMsg:
		return checkHashCount(len(m.Hashes))
	case *LosingTxMsg:
		return checkHashCount(len(m.Hashes))
	case *RememberTxMsg:
		if err := checkHashCount(len(m.Hashes)); err != nil {
			return err
		}
		for _, tx := range m.Txs {
			if len(tx) > maxTxSize {
				return fmt.Errorf("transaction too large: %d bytes", len(tx))
			}
		}
	case *ForgetTxMsg:
		return checkHashCount(len(m.Hashes))
	}
	return nil
}

func checkHashCount(n int) error {
	if n > maxHashesPerMsg {
		return fmt.Errorf("too many hashes in one command: %d", n)
	}
	return nil
}

// DecodeSharePacket decodes a GossipSub share message.
func DecodeSharePacket(data []byte) (*SharePacket, error) {
	var pkt SharePacket
	if err := cbor.Unmarshal(data, &pkt); err != nil {
		return nil, err
	}
	if len(pkt.Data) > maxFrameSize {
		return nil, fmt.Errorf("share packet too large: %d bytes", len(pkt.Data))
	}
	return &pkt, nil
}
