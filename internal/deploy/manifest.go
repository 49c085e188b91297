package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tagAirdrop/internal/model"
)

// Manifest records the deployed contracts of one chain.
type Manifest struct {
	ChainID            uint64                   `json:"chain_id"`
	UserRank           common.Address           `json:"user_rank"`
	UserRankTagClassID string                   `json:"user_rank_tag_class_id,omitempty"`
	AirdropFactory     common.Address           `json:"airdrop_factory"`
	Airdrops           []model.ContractInstance `json:"airdrops,omitempty"`
	UpdatedAt          string                   `json:"updated_at"`
}

// AddAirdrop appends an instance unless its address is already listed.
func (m *Manifest) AddAirdrop(instance model.ContractInstance) {
	for _, existing := range m.Airdrops {
		if existing.Address == instance.Address {
			return
		}
	}
	m.Airdrops = append(m.Airdrops, instance)
}

// LatestAirdrop returns the most recently added instance.
func (m Manifest) LatestAirdrop() (common.Address, bool) {
	if len(m.Airdrops) == 0 {
		return common.Address{}, false
	}
	return m.Airdrops[len(m.Airdrops)-1].Address, true
}

// ManifestStore persists a manifest as JSON. Writes replace the file
// atomically.
type ManifestStore struct {
	path string
}

func NewManifestStore(path string) *ManifestStore {
	return &ManifestStore{path: path}
}

func (s *ManifestStore) Path() string {
	return s.path
}

func (s *ManifestStore) Load() (Manifest, bool, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("stat manifest: %w", err)
	}
	if stat.IsDir() {
		return Manifest{}, false, fmt.Errorf("manifest path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse manifest: %w", err)
	}
	return m, true, nil
}

// Save stamps UpdatedAt and writes the manifest.
func (s *ManifestStore) Save(m *Manifest) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create manifest dir: %w", err)
		}
	}

	m.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
