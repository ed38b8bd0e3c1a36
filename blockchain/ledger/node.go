package ledger

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	jose "gopkg.in/square/go-jose.v2"

	"ewp-backend/models"
)

// DefaultQueueSize bounds the append inbox.
const DefaultQueueSize = 64

// AppendResult is the outcome of one append.
type AppendResult struct {
	Entry     *models.LedgerEntry `json:"entry"`
	Ack       *models.LedgerAck   `json:"ack"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

type appendRequest struct {
	event    models.VclEvent
	resultCh chan<- appendOutcome
}

type appendOutcome struct {
	result *AppendResult
	err    error
}

// Head summarises the tip of the chain.
type Head struct {
	Height    uint64 `json:"height"`
	HeadHash  string `json:"head_hash"`
	UpdatedAt string `json:"updated_at"`
}

// Stats counts entries per event type.
type Stats struct {
	Height     uint64                   `json:"height"`
	TypeCounts map[models.EventType]int `json:"type_counts"`
	UpdatedAt  string                   `json:"updated_at"`
}

// Node is one ledger instance. All appends go through a single writer
// goroutine fed by a bounded channel, so index assignment and hash-chain
// extension never interleave.
type Node struct {
	ID   string
	Role models.NodeRole

	store      Store
	key        *AckKey
	now        func() time.Time
	engineKids map[string]bool

	appendCh     chan *appendRequest
	shutdownCh   chan struct{}
	processingWg sync.WaitGroup

	mu        sync.RWMutex
	updatedAt string
}

// NewNode creates a node. Call Start before appending.
func NewNode(id string, role models.NodeRole, store Store, key *AckKey, queueSize int) *Node {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Node{
		ID:         id,
		Role:       role,
		store:      store,
		key:        key,
		now:        time.Now,
		appendCh:   make(chan *appendRequest, queueSize),
		shutdownCh: make(chan struct{}),
	}
}

// AcceptSigners limits appends to events signed by the given engine kids.
// With no kids configured any correctly signed event is accepted. Call
// before Start.
func (n *Node) AcceptSigners(kids ...string) {
	if len(kids) == 0 {
		return
	}
	n.engineKids = make(map[string]bool, len(kids))
	for _, kid := range kids {
		n.engineKids[kid] = true
	}
}

// Start launches the writer.
func (n *Node) Start() {
	n.processingWg.Add(1)
	go n.appendWorker()
}

// Stop drains nothing: queued requests still waiting get no answer and
// their callers observe their own context deadline.
func (n *Node) Stop() {
	close(n.shutdownCh)
	n.processingWg.Wait()
}

// Append validates ev and queues it for the writer. A full queue is
// rejected immediately with EWP_RATE_LIMITED.
//
// Once queued the append is not withdrawn: if ctx ends first the entry may
// still land. The returned error names the tx_id, and repeating the append
// returns the stored entry as a duplicate.
func (n *Node) Append(ctx context.Context, ev models.VclEvent) (*AppendResult, error) {
	if !n.Role.Allows(ev.Type) {
		return nil, models.NewError(models.ErrForbiddenEventType,
			"role %s may not originate %s events", n.Role, ev.Type).
			WithDetail("allowed", n.Role.AllowedEventTypes())
	}
	if err := VerifyEvent(&ev); err != nil {
		return nil, models.NewError(models.ErrBadRequest, "invalid event: %v", err)
	}
	if n.engineKids != nil && !n.engineKids[ev.Kid] {
		return nil, models.NewError(models.ErrUnauthorized, "event signer %s is not accepted by this node", ev.Kid)
	}

	resultCh := make(chan appendOutcome, 1)
	select {
	case n.appendCh <- &appendRequest{event: ev, resultCh: resultCh}:
	default:
		log.WithField("node_role", n.Role).Warn("Append queue is full, rejecting request")
		return nil, models.NewError(models.ErrRateLimited, "ledger append queue is full")
	}

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return nil, xerrors.Errorf("append of tx %s still queued: %w", ev.TxID, ctx.Err())
	}
}

func (n *Node) appendWorker() {
	defer n.processingWg.Done()

	for {
		select {
		case <-n.shutdownCh:
			return
		case req := <-n.appendCh:
			result, err := n.appendOne(req.event)
			req.resultCh <- appendOutcome{result: result, err: err}
			close(req.resultCh)
		}
	}
}

// appendOne runs on the writer goroutine only.
func (n *Node) appendOne(ev models.VclEvent) (*AppendResult, error) {
	if existing, err := n.store.FindTx(ev.TxID); err == nil {
		ack, err := n.key.Acknowledge(n.ID, n.Role, existing)
		if err != nil {
			return nil, err
		}
		return &AppendResult{Entry: existing, Ack: ack, Duplicate: true}, nil
	} else if !xerrors.Is(err, ErrNotFound) {
		return nil, err
	}

	prev, err := n.store.Head()
	if err != nil {
		return nil, xerrors.Errorf("read head: %v", err)
	}
	now := models.FormatTime(n.now())
	entry, err := models.NewLedgerEntry(prev, ev, now)
	if err != nil {
		return nil, err
	}
	if err := n.store.Append(entry); err != nil {
		return nil, xerrors.Errorf("store entry: %v", err)
	}
	n.mu.Lock()
	n.updatedAt = now
	n.mu.Unlock()

	ack, err := n.key.Acknowledge(n.ID, n.Role, entry)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"node_role": n.Role,
		"index":     entry.Index,
		"tx_id":     ev.TxID,
	}).Info("Ledger entry appended")
	return &AppendResult{Entry: entry, Ack: ack}, nil
}

func (n *Node) lastUpdate() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.updatedAt
}

// Head returns the chain tip.
func (n *Node) Head() (*Head, error) {
	head, err := n.store.Head()
	if err != nil {
		return nil, err
	}
	h := &Head{HeadHash: models.GenesisHash, UpdatedAt: n.lastUpdate()}
	if head != nil {
		h.Height = head.Index
		h.HeadHash = head.Hash
		if h.UpdatedAt == "" {
			h.UpdatedAt = head.AcceptedAt
		}
	}
	return h, nil
}

// Stats returns per-type counters.
func (n *Node) Stats() (*Stats, error) {
	height, err := n.store.Height()
	if err != nil {
		return nil, err
	}
	counts, err := n.store.TypeCounts()
	if err != nil {
		return nil, err
	}
	return &Stats{Height: height, TypeCounts: counts, UpdatedAt: n.lastUpdate()}, nil
}

// Entries pages through the chain. nextFrom is 0 when there is nothing more.
func (n *Node) Entries(from uint64, limit int) ([]*models.LedgerEntry, uint64, error) {
	if from == 0 {
		from = 1
	}
	entries, err := n.store.Range(from, limit)
	if err != nil {
		return nil, 0, err
	}
	height, err := n.store.Height()
	if err != nil {
		return nil, 0, err
	}
	next := from + uint64(len(entries))
	if next > height {
		next = 0
	}
	return entries, next, nil
}

// Entry returns a single entry.
func (n *Node) Entry(index uint64) (*models.LedgerEntry, error) {
	return n.store.Get(index)
}

// PublicJWK is the node's acknowledgment key.
func (n *Node) PublicJWK() jose.JSONWebKey {
	return n.key.PublicJWK()
}
