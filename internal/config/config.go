// Package config loads the JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration.
type Config struct {
	Daemon              Daemon              `json:"daemon"`
	Zookeeper           Zookeeper           `json:"zookeeper"`
	Address             string              `json:"address"`
	Fees                float64             `json:"fees"`
	BlockNotifyListener BlockNotifyListener `json:"blocknotifylistener"`
	P2P                 P2P                 `json:"p2p"`
	Publisher           Publisher           `json:"publisher"`
	ExtranonceSize      int                 `json:"extranonceSize"`
	MetricsAddr         string              `json:"metricsAddr"`
}

// Daemon configures the blockchain daemon RPC connection.
type Daemon struct {
	URL              string `json:"url"`
	User             string `json:"user"`
	Password         string `json:"password"`
	PollIntervalSecs int    `json:"pollIntervalSecs"`
}

// Zookeeper carries the coordination settings consumed by the downstream
// publisher deployment; the coordinator passes them through untouched.
type Zookeeper struct {
	Servers []string `json:"servers"`
	Chroot  string   `json:"chroot"`
}

// BlockNotifyListener configures the one-shot block-notify TCP listener.
// When disabled, the daemon watcher polls on its own schedule only.
type BlockNotifyListener struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// P2P configures the peer layer.
type P2P struct {
	ListenPort int      `json:"listenPort"`
	DataDir    string   `json:"dataDir"`
	Bootnodes  []string `json:"bootnodes"`
	MDNS       bool     `json:"mdns"`
}

// Publisher configures the downstream task publisher listener.
type Publisher struct {
	ListenAddr string `json:"listenAddr"`
}

// Load reads and decodes the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		ExtranonceSize: 8,
		MetricsAddr:    ":9090",
		P2P: P2P{
			ListenPort: 9333,
			DataDir:    "data",
			MDNS:       true,
		},
		Publisher: Publisher{ListenAddr: ":3334"},
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Daemon.URL == "" {
		return nil, fmt.Errorf("daemon.url is required")
	}
	if len(cfg.Address) != 40 {
		return nil, fmt.Errorf("address must be a 20-byte pubkey hash in hex")
	}
	return cfg, nil
}
