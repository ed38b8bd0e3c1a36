// Package api serves one ledger node over HTTP. Reads are public; appends
// require the node's bearer token.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	jose "gopkg.in/square/go-jose.v2"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 1 << 20
)

// NodeConfig configures a ledger node process.
type NodeConfig struct {
	NodeID    string          `toml:"node_id"`
	Role      models.NodeRole `toml:"role"`
	Listen    string          `toml:"listen"`
	Token     string          `toml:"token"`
	DBPath    string          `toml:"db_path"`
	KeyFile   string          `toml:"key_file"`
	QueueSize int             `toml:"queue_size"`
	// EngineKids, when set, are the only engine signers whose events are
	// appended.
	EngineKids []string `toml:"engine_kids"`
}

// DefaultNodeConfig is a federal node on :8080 with an in-memory chain.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		NodeID:    "federal-1",
		Role:      models.RoleFederal,
		Listen:    ":8080",
		KeyFile:   "data/node_key.json",
		QueueSize: ledger.DefaultQueueSize,
	}
}

// LoadNodeConfig reads a TOML file over the defaults.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, xerrors.Errorf("failed to parse node config %s: %v", path, err)
	}
	if _, err := models.ParseRole(string(cfg.Role)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ErrNoToken is returned by NewServer for a config without a bearer token.
var ErrNoToken = xerrors.New("node config has no append token")

type Server struct {
	node  *ledger.Node
	store ledger.Store
	token string
	now   func() time.Time
	http  *http.Server
}

// NewServer opens the node's store and key and starts its writer.
func NewServer(cfg NodeConfig) (*Server, error) {
	if _, err := models.ParseRole(string(cfg.Role)); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	var store ledger.Store = ledger.NewMemoryStore()
	if cfg.DBPath != "" {
		bs, err := ledger.OpenBoltStore(cfg.DBPath)
		if err != nil {
			return nil, xerrors.Errorf("failed to open ledger store: %v", err)
		}
		store = bs
	}
	var (
		key *ledger.AckKey
		err error
	)
	if cfg.KeyFile != "" {
		key, err = ledger.LoadAckKey(cfg.KeyFile)
	} else {
		key, err = ledger.GenerateAckKey()
	}
	if err != nil {
		store.Close()
		return nil, xerrors.Errorf("failed to load ack key: %v", err)
	}

	node := ledger.NewNode(cfg.NodeID, cfg.Role, store, key, cfg.QueueSize)
	node.AcceptSigners(cfg.EngineKids...)
	node.Start()
	s := NewServerWithNode(node, cfg.Token)
	s.store = store
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewServerWithNode serves an already started node. With an empty token
// every append is refused.
func NewServerWithNode(node *ledger.Node, token string) *Server {
	return &Server{node: node, token: token, now: time.Now}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/node", s.handleNode)
	mux.HandleFunc("GET /v1/key", s.handleKey)
	mux.HandleFunc("GET /v1/ledger/head", s.handleHead)
	mux.HandleFunc("GET /v1/ledger/stats", s.handleStats)
	mux.HandleFunc("GET /v1/ledger/entries", s.handleEntries)
	mux.HandleFunc("GET /v1/ledger/entries/{index}", s.handleEntry)
	mux.HandleFunc("POST /v1/ledger/append", s.requireToken(s.handleAppend))
	return mux
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.WithFields(log.Fields{
		"node_id": s.node.ID,
		"role":    s.node.Role,
		"kid":     s.node.PublicJWK().KeyID,
	}).Infof("Ledger node listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the writer and closes the
// store.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.node.Stop()
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, models.NewError(models.ErrUnauthorized, "missing or invalid bearer token"))
			return
		}
		next(w, r)
	}
}

// Health is the body of GET /health.
type Health struct {
	OK     bool            `json:"ok"`
	NodeID string          `json:"node_id"`
	Role   models.NodeRole `json:"role"`
	TS     string          `json:"ts"`
}

// KeyInfo is the body of GET /v1/key.
type KeyInfo struct {
	Kid string          `json:"kid"`
	JWK jose.JSONWebKey `json:"jwk"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		OK:     true,
		NodeID: s.node.ID,
		Role:   s.node.Role,
		TS:     models.FormatTime(s.now()),
	})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	jwk := s.node.PublicJWK()
	writeJSON(w, http.StatusOK, KeyInfo{Kid: jwk.KeyID, JWK: jwk})
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	head, err := s.node.Head()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.NodeInfo{
		NodeID:            s.node.ID,
		Role:              s.node.Role,
		AllowedEventTypes: s.node.Role.AllowedEventTypes(),
		SigningKey:        s.node.PublicJWK(),
		Head:              head,
	})
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.node.Head()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, head)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, limit := uint64(1), defaultPageSize
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, models.NewError(models.ErrBadRequest, "invalid from %q", v))
			return
		}
		from = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, models.NewError(models.ErrBadRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	entries, next, err := s.node.Entries(from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, ledger.EntriesPage{Entries: entries, NextFrom: next})
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, models.NewError(models.ErrBadRequest, "invalid index"))
		return
	}
	entry, err := s.node.Entry(index)
	if xerrors.Is(err, ledger.ErrNotFound) {
		writeError(w, models.NewError(models.ErrNotFound, "no entry at index %d", index))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var ev models.VclEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, models.NewError(models.ErrBadRequest, "invalid event body: %v", err))
		return
	}

	res, err := s.node.Append(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	log.WithFields(log.Fields{
		"index":     res.Entry.Index,
		"tx_id":     ev.TxID,
		"duplicate": res.Duplicate,
	}).Debug("Event appended")
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := models.AsError(err)
	if e.Code == models.ErrInternal {
		log.WithError(err).Error("Ledger request failed")
	}
	writeJSON(w, e.HTTPStatus(), models.ErrorResponse{Error: e})
}
