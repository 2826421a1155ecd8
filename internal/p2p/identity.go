package p2p

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"

	"go.uber.org/zap"
)

// nodeKeyFile sits next to the address book in the data dir.
const nodeKeyFile = "node.key"

// loadNodeIdentity returns the node's libp2p identity key, generating and
// persisting a fresh Ed25519 key on first run. A stable key keeps the peer
// ID constant across restarts, so address-book entries and bootnode lists
// pointing at this node stay valid.
func loadNodeIdentity(dataDir string, logger *zap.Logger) (crypto.PrivKey, error) {
	path := filepath.Join(dataDir, nodeKeyFile)

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt node key %s: %w", path, err)
		}
		logger.Debug("loaded node identity", zap.String("path", path))
		return key, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read node key: %w", err)
	}

	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if raw, err = crypto.MarshalPrivateKey(key); err != nil {
		return nil, fmt.Errorf("marshal node key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Write-then-rename so a crash cannot leave a truncated key behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return nil, fmt.Errorf("write node key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("install node key: %w", err)
	}

	logger.Info("generated node identity", zap.String("path", path))
	return key, nil
}
