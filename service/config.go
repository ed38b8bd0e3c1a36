package service

import (
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"ewp-backend/models"
	"ewp-backend/registry"
)

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LedgerTarget is one external ledger node events are replicated to.
type LedgerTarget struct {
	Role  models.NodeRole `toml:"role"`
	URL   string          `toml:"url"`
	Token string          `toml:"token"`
}

// ElectionOptions describe the election created by Initialize.
type ElectionOptions struct {
	ElectionID     string           `toml:"election_id"`
	JurisdictionID string           `toml:"jurisdiction_id"`
	Trustees       models.Threshold `toml:"trustees"`
	Issuers        models.Threshold `toml:"issuers"`
	VoterIDs       []string         `toml:"voter_ids"`
	VoterCount     int              `toml:"voter_count"`
	Window         Duration         `toml:"window"`
	Contests       []models.Contest `toml:"contests"`
	Endpoints      models.Endpoints `toml:"endpoints"`
}

// Config is the engine configuration.
type Config struct {
	StoreKind              string                  `toml:"store"`
	StatePath              string                  `toml:"state_path"`
	ChallengeTTL           Duration                `toml:"challenge_ttl"`
	ReplicationTimeout     Duration                `toml:"replication_timeout"`
	ReplicationConcurrency int                     `toml:"replication_concurrency"`
	MaxInFlightCasts       int                     `toml:"max_in_flight_casts"`
	Ledgers                []LedgerTarget          `toml:"ledger"`
	Registry               registry.RegistryConfig `toml:"registry"`
	Election               ElectionOptions         `toml:"election"`
}

// DefaultContests is a single yes/no referendum.
func DefaultContests() []models.Contest {
	return []models.Contest{{
		ContestID: "referendum-id",
		Type:      models.ContestReferendum,
		Title:     "Referendum",
		Options: []models.ContestOption{
			{ID: "yes", Label: "Yes"},
			{ID: "no", Label: "No"},
		},
	}}
}

// DefaultConfig returns a 2-of-3 trustee and issuer election with no ledger
// targets.
func DefaultConfig() Config {
	return Config{
		StoreKind:              "json",
		StatePath:              "data/election_state.json",
		ChallengeTTL:           Duration{5 * time.Minute},
		ReplicationTimeout:     Duration{10 * time.Second},
		ReplicationConcurrency: 4,
		MaxInFlightCasts:       32,
		Election: ElectionOptions{
			ElectionID:     "election-2026",
			JurisdictionID: "jurisdiction-1",
			Trustees:       models.Threshold{T: 2, N: 3},
			Issuers:        models.Threshold{T: 2, N: 3},
			VoterCount:     10,
			Window:         Duration{24 * time.Hour},
			Contests:       DefaultContests(),
		},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, xerrors.Errorf("failed to parse config %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the thresholds and ledger targets.
func (c *Config) Validate() error {
	for _, th := range []models.Threshold{c.Election.Trustees, c.Election.Issuers} {
		if th.T < 2 || th.N < th.T {
			return xerrors.Errorf("invalid threshold %d-of-%d", th.T, th.N)
		}
	}
	if len(c.Election.Contests) == 0 {
		return xerrors.Errorf("election has no contests")
	}
	for _, l := range c.Ledgers {
		if _, err := models.ParseRole(string(l.Role)); err != nil {
			return err
		}
		if l.URL == "" {
			return xerrors.Errorf("ledger target for %s has no url", l.Role)
		}
	}
	return nil
}
