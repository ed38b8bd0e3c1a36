// Package service is the election engine: setup, credential issuance,
// challenges, ballots, the cast protocol, tally, verification and fraud
// case handling. Every operation reads and writes state through an
// ElectionStore handle.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/credential"
	"ewp-backend/encryption"
	"ewp-backend/models"
	"ewp-backend/registry"
	"ewp-backend/storage"
)

// VotingService owns one election. All state mutations run inside mu
// against a freshly loaded copy of the state, and only reach the store once
// the whole mutation succeeded.
type VotingService struct {
	store      storage.ElectionStore
	cfg        Config
	mu         sync.Mutex
	signer     *encryption.Signer
	replicator *Replicator
	metrics    *MetricsCollector
	castSlots  *semaphore.Weighted
	now        func() time.Time
}

// Option customises a VotingService.
type Option func(*VotingService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(vs *VotingService) { vs.now = now }
}

func newVotingService(store storage.ElectionStore, cfg Config, opts []Option) *VotingService {
	slots := cfg.MaxInFlightCasts
	if slots <= 0 {
		slots = 1
	}
	vs := &VotingService{
		store:      store,
		cfg:        cfg,
		replicator: NewReplicator(cfg.Ledgers, cfg.ReplicationTimeout.Duration, cfg.ReplicationConcurrency),
		metrics:    NewMetricsCollector(),
		castSlots:  semaphore.NewWeighted(int64(slots)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(vs)
	}
	return vs
}

// Initialize creates a new election in an empty store: election key and
// trustee shares, issuer keys, voter roll commitment and the signed
// manifest. The manifest event is replicated before returning.
func Initialize(ctx context.Context, store storage.ElectionStore, cfg Config, opts ...Option) (*VotingService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, models.NewError(models.ErrBadRequest, "invalid configuration: %v", err)
	}
	if _, err := store.Load(); err == nil {
		return nil, models.NewError(models.ErrBadRequest, "election state already exists, reset it first")
	} else if !xerrors.Is(err, storage.ErrNoState) {
		return nil, err
	}

	vs := newVotingService(store, cfg, opts)
	signer, err := encryption.NewSigner()
	if err != nil {
		return nil, err
	}
	roll, err := vs.loadRoll()
	if err != nil {
		return nil, err
	}

	vs.mu.Lock()
	st, err := vs.setupElection(signer, roll)
	if err != nil {
		vs.mu.Unlock()
		return nil, err
	}
	ev, err := ledger.NewEvent(signer, &models.ManifestPublishedPayload{
		ElectionID:     st.Manifest.ElectionID,
		JurisdictionID: st.Manifest.JurisdictionID,
		ManifestID:     st.Manifest.ManifestID,
		NotBefore:      st.Manifest.NotBefore,
		NotAfter:       st.Manifest.NotAfter,
		RollRoot:       st.Manifest.VoterRoll.Root,
		RollCeiling:    st.Manifest.VoterRoll.Ceiling,
	}, vs.now())
	if err != nil {
		vs.mu.Unlock()
		return nil, err
	}
	st.Events = append(st.Events, *ev)
	if err := store.Save(st); err != nil {
		vs.mu.Unlock()
		return nil, xerrors.Errorf("failed to save election state: %v", err)
	}
	vs.signer = signer
	vs.mu.Unlock()

	log.WithFields(log.Fields{
		"election_id": st.Manifest.ElectionID,
		"manifest_id": st.Manifest.ManifestID,
		"voters":      len(st.VoterRoll),
	}).Info("Election initialized")

	vs.replicateAndRecord(ctx, ev)
	return vs, nil
}

// Open attaches to an already initialized election.
func Open(store storage.ElectionStore, cfg Config, opts ...Option) (*VotingService, error) {
	st, err := store.Load()
	if err != nil {
		return nil, notInitialized(err)
	}
	signer, err := encryption.SignerFromHex(st.SignerKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to restore engine signer: %v", err)
	}
	vs := newVotingService(store, cfg, opts)
	vs.signer = signer
	return vs, nil
}

// Reset wipes the election state.
func (vs *VotingService) Reset() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if err := vs.store.Reset(); err != nil {
		return xerrors.Errorf("failed to reset state: %v", err)
	}
	vs.metrics.Reset()
	log.Info("Election state reset")
	return nil
}

func (vs *VotingService) loadRoll() (*registry.MockVoterRegistry, error) {
	if vs.cfg.Registry.VotersFilePath != "" {
		roll, err := registry.NewMockVoterRegistry(vs.cfg.Registry)
		if err != nil {
			return nil, xerrors.Errorf("failed to initialize voter registry: %v", err)
		}
		if err := roll.LoadVotersFromFile(); err != nil {
			return nil, xerrors.Errorf("failed to load voter registry data: %v", err)
		}
		return roll, nil
	}
	ids := vs.cfg.Election.VoterIDs
	if len(ids) == 0 {
		ids = registry.DefaultVoterIDs(vs.cfg.Election.VoterCount)
	}
	return registry.FromVoterIDs(ids), nil
}

func (vs *VotingService) setupElection(signer *encryption.Signer, roll registry.VoterRoll) (*models.ElectionState, error) {
	opts := vs.cfg.Election
	now := vs.now()

	// 1. Election key, split among the trustees
	x, pub := encryption.GenerateKeyPair()
	shares, err := encryption.ShamirSplit(x, opts.Trustees.T, opts.Trustees.N)
	if err != nil {
		return nil, models.NewError(models.ErrBadRequest, "trustee split: %v", err)
	}

	st := models.NewElectionState()
	st.SignerKey = signer.KeyHex()
	var trustees []models.TrusteeKey
	for _, sh := range shares {
		id := fmt.Sprintf("trustee-%d", sh.X)
		st.TrusteeShares = append(st.TrusteeShares, models.TrusteeShareRecord{
			ID: id,
			X:  sh.X,
			Y:  encryption.ScalarB64(sh.Y),
		})
		trustees = append(trustees, models.TrusteeKey{
			ID:        id,
			X:         sh.X,
			PublicKey: encryption.PointB64(encryption.PublicFromScalar(sh.Y)),
		})
	}

	// 2. Issuer keys
	var issuers []models.IssuerKey
	for i := 1; i <= opts.Issuers.N; i++ {
		sk, pk := encryption.GenerateKeyPair()
		st.IssuerSecrets = append(st.IssuerSecrets, models.IssuerSecret{Index: i, Secret: encryption.ScalarB64(sk)})
		issuers = append(issuers, models.IssuerKey{Index: i, PublicKey: encryption.PointB64(pk)})
	}

	// 3. Voter roll commitment
	st.VoterRoll = roll.VoterIDs()
	commitment := roll.Commitment()
	if commitment.Ceiling == 0 {
		return nil, models.NewError(models.ErrBadRequest, "voter roll is empty")
	}

	window := opts.Window.Duration
	if window <= 0 {
		window = 24 * time.Hour
	}
	m := &models.ElectionManifest{
		EWPVersion:        models.EWPVersion,
		ElectionID:        opts.ElectionID,
		JurisdictionID:    opts.JurisdictionID,
		NotBefore:         models.FormatTime(now),
		NotAfter:          models.FormatTime(now.Add(window)),
		SuiteID:           encryption.SuiteID,
		ElectionPublicKey: encryption.PointB64(pub),
		Issuers:           issuers,
		IssuerThreshold:   opts.Issuers,
		VoterRoll:         commitment,
		Trustees:          trustees,
		TrusteeThreshold:  opts.Trustees,
		Contests:          opts.Contests,
		Endpoints:         opts.Endpoints,
	}
	// 4. Sign
	if err := SignManifest(signer, m); err != nil {
		return nil, err
	}
	st.Manifest = m
	st.CreatedAt = models.FormatTime(now)
	st.UpdatedAt = st.CreatedAt
	return st, nil
}

// Kid is the engine signer's key id.
func (vs *VotingService) Kid() string {
	return vs.signer.Kid()
}

// Metrics returns the collected timings.
func (vs *VotingService) Metrics() MetricsResponse {
	return vs.metrics.GetMetrics()
}

// State returns a copy of the current election state.
func (vs *VotingService) State() (*models.ElectionState, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	st, err := vs.store.Load()
	if err != nil {
		return nil, notInitialized(err)
	}
	return st, nil
}

// update runs fn against a freshly loaded state and saves the result only
// if fn succeeds.
func (vs *VotingService) update(fn func(st *models.ElectionState) error) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.updateLocked(fn)
}

func (vs *VotingService) updateLocked(fn func(st *models.ElectionState) error) error {
	st, err := vs.store.Load()
	if err != nil {
		return notInitialized(err)
	}
	if err := fn(st); err != nil {
		return err
	}
	return vs.saveLocked(st)
}

func (vs *VotingService) saveLocked(st *models.ElectionState) error {
	st.UpdatedAt = models.FormatTime(vs.now())
	if err := vs.store.Save(st); err != nil {
		return xerrors.Errorf("failed to save election state: %v", err)
	}
	return nil
}

// view runs fn against a freshly loaded state without saving.
func (vs *VotingService) view(fn func(st *models.ElectionState) error) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	st, err := vs.store.Load()
	if err != nil {
		return notInitialized(err)
	}
	return fn(st)
}

func notInitialized(err error) error {
	if xerrors.Is(err, storage.ErrNoState) {
		return models.NewError(models.ErrNotFound, "no election initialized")
	}
	return err
}

// asError logs unexpected failures and maps every error onto the error
// taxonomy, so callers always get a code.
func asError(op string, err error) error {
	if err == nil {
		return nil
	}
	e := models.AsError(err)
	if e.Code == models.ErrInternal {
		log.WithError(err).Errorf("%s failed", op)
	}
	return e
}

// issuers rebuilds the simulated issuers from their stored secrets.
func issuers(st *models.ElectionState) ([]credential.Issuer, error) {
	out := make([]credential.Issuer, 0, len(st.IssuerSecrets))
	for _, is := range st.IssuerSecrets {
		sk, err := encryption.ScalarFromB64(is.Secret)
		if err != nil {
			return nil, xerrors.Errorf("issuer %d secret: %v", is.Index, err)
		}
		out = append(out, credential.Issuer{Index: is.Index, BlindIssuer: encryption.NewBlindIssuer(sk)})
	}
	return out, nil
}

func (vs *VotingService) signature(v interface{}) (*models.Signature, error) {
	sig, err := vs.signer.SignCanonical(v)
	if err != nil {
		return nil, err
	}
	return &models.Signature{Alg: models.SignatureAlg, Kid: vs.signer.Kid(), Sig: sig}, nil
}
