// Package registry is a mock voter roll. It stands in for an official
// registry and publishes only a commitment (Merkle root and ceiling) in the
// election manifest.
package registry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ewp-backend/blockchain/merkle"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

// VoterRoll is what the engine needs from a voter registry.
type VoterRoll interface {
	VoterExists(voterID string) bool
	VoterIDs() []string
	Commitment() models.RollCommitment
	MembershipProof(voterID string) (*models.InclusionProof, error)
}

// VoterDetails is one entry of the mock roll.
type VoterDetails struct {
	VoterID        string    `json:"voter_id"`
	JurisdictionID string    `json:"jurisdiction_id"`
	IsActive       bool      `json:"is_active"`
	LastUpdated    time.Time `json:"last_updated"`
}

// MockVoterRegistry implements VoterRoll from an in-memory set of voters.
type MockVoterRegistry struct {
	voters map[string]*VoterDetails
	mu     sync.RWMutex
	config RegistryConfig
}

type RegistryConfig struct {
	VotersFilePath string `toml:"voters_file" json:"voters_file_path"`
	DefaultVoters  int    `toml:"default_voters" json:"default_voters"`
	JurisdictionID string `toml:"jurisdiction_id" json:"jurisdiction_id"`
}

// NewMockVoterRegistry creates an empty registry.
func NewMockVoterRegistry(config RegistryConfig) (*MockVoterRegistry, error) {
	registry := &MockVoterRegistry{
		voters: make(map[string]*VoterDetails),
		config: config,
	}
	if config.VotersFilePath != "" {
		dir := filepath.Dir(config.VotersFilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}
	return registry, nil
}

// FromVoterIDs builds an active roll from a list of ids, as persisted in the
// election state.
func FromVoterIDs(ids []string) *MockVoterRegistry {
	m := &MockVoterRegistry{voters: make(map[string]*VoterDetails, len(ids))}
	for _, id := range ids {
		m.voters[id] = &VoterDetails{VoterID: id, IsActive: true}
	}
	return m
}

// LoadVotersFromFile loads the roll, writing a default one if the file is
// missing.
func (m *MockVoterRegistry) LoadVotersFromFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.config.VotersFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return m.createDefaultVotersFile()
		}
		return fmt.Errorf("failed to read voters file: %v", err)
	}

	var votersData struct {
		Voters []*VoterDetails `json:"voters"`
	}
	if err := json.Unmarshal(data, &votersData); err != nil {
		return fmt.Errorf("failed to unmarshal voter data: %v", err)
	}

	m.voters = make(map[string]*VoterDetails)
	for _, voter := range votersData.Voters {
		if err := validateVoterData(voter); err != nil {
			return fmt.Errorf("invalid voter data for %s: %v", voter.VoterID, err)
		}
		if _, dup := m.voters[voter.VoterID]; dup {
			return fmt.Errorf("duplicate voter id %s", voter.VoterID)
		}
		m.voters[voter.VoterID] = voter
	}
	return nil
}

// DefaultVoterIDs returns voter-0001 .. voter-n.
func DefaultVoterIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("voter-%04d", i+1)
	}
	return ids
}

func (m *MockVoterRegistry) createDefaultVotersFile() error {
	n := m.config.DefaultVoters
	if n <= 0 {
		n = 10
	}
	var voters []*VoterDetails
	for _, id := range DefaultVoterIDs(n) {
		voters = append(voters, &VoterDetails{
			VoterID:        id,
			JurisdictionID: m.config.JurisdictionID,
			IsActive:       true,
			LastUpdated:    time.Now().UTC(),
		})
	}
	data, err := json.MarshalIndent(struct {
		Voters []*VoterDetails `json:"voters"`
	}{voters}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default voter data: %v", err)
	}
	if err := os.WriteFile(m.config.VotersFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to save default voters file: %v", err)
	}
	for _, voter := range voters {
		m.voters[voter.VoterID] = voter
	}
	return nil
}

func validateVoterData(voter *VoterDetails) error {
	if voter.VoterID == "" {
		return fmt.Errorf("voter id is required")
	}
	return nil
}

func (m *MockVoterRegistry) VoterExists(voterID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	voter, exists := m.voters[voterID]
	return exists && voter.IsActive
}

func (m *MockVoterRegistry) GetVoterDetails(voterID string) (*VoterDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	voter, exists := m.voters[voterID]
	if !exists {
		return nil, fmt.Errorf("voter %s not found", voterID)
	}
	if !voter.IsActive {
		return nil, fmt.Errorf("voter %s is inactive", voterID)
	}
	voterCopy := *voter
	return &voterCopy, nil
}

// VoterIDs returns the active voter ids, sorted.
func (m *MockVoterRegistry) VoterIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.voters))
	for id, v := range m.voters {
		if v.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RollLeaf is the committed form of one voter id.
func RollLeaf(voterID string) []byte {
	return encryption.Hash(encryption.DomainRoll, []byte(voterID))
}

func (m *MockVoterRegistry) leaves() ([][]byte, []string) {
	ids := m.VoterIDs()
	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = RollLeaf(id)
	}
	return leaves, ids
}

// Commitment returns the roll root and the issuance ceiling.
func (m *MockVoterRegistry) Commitment() models.RollCommitment {
	leaves, ids := m.leaves()
	return models.RollCommitment{
		Root:    hex.EncodeToString(merkle.Root(leaves)),
		Ceiling: len(ids),
	}
}

// MembershipProof proves voterID is under the roll root.
func (m *MockVoterRegistry) MembershipProof(voterID string) (*models.InclusionProof, error) {
	leaves, ids := m.leaves()
	i := sort.SearchStrings(ids, voterID)
	if i == len(ids) || ids[i] != voterID {
		return nil, fmt.Errorf("voter %s not on the roll", voterID)
	}
	return merkle.Proof(leaves, i)
}
