package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	jose "gopkg.in/square/go-jose.v2"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/models"
)

// Replicator pushes events to the external ledger nodes. Every push is
// bounded by the replication timeout; failures are collected, never
// returned.
type Replicator struct {
	clients     []*ledger.Client
	concurrency int
	timeout     time.Duration

	mu   sync.Mutex
	keys map[string]jose.JSONWebKey
}

// Replication is the settled outcome of one fan-out.
type Replication struct {
	Acks     []models.LedgerAck
	Keys     map[string]string
	Attempts int
	Failures []string
}

// Status summarises the outcome for a receipt.
func (r *Replication) Status() string {
	switch {
	case len(r.Acks) == 0:
		return models.ReplicationLocalOnly
	case len(r.Failures) == 0:
		return models.ReplicationReplicated
	}
	return models.ReplicationPartial
}

func NewReplicator(targets []LedgerTarget, timeout time.Duration, concurrency int) *Replicator {
	if timeout <= 0 {
		timeout = ledger.DefaultTimeout
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	r := &Replicator{
		concurrency: concurrency,
		timeout:     timeout,
		keys:        make(map[string]jose.JSONWebKey),
	}
	for _, t := range targets {
		r.clients = append(r.clients, ledger.NewClient(t.URL, t.Token, t.Role, timeout))
	}
	return r
}

// Replicate sends each event to every target whose role may originate it
// and waits for all of them to settle.
func (r *Replicator) Replicate(ctx context.Context, events ...*models.VclEvent) *Replication {
	out := &Replication{Keys: make(map[string]string)}
	if len(r.clients) == 0 {
		return out
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(r.concurrency)
	for _, c := range r.clients {
		for _, ev := range events {
			if ev == nil || !c.Role.Allows(ev.Type) {
				continue
			}
			c, ev := c, ev
			out.Attempts++
			g.Go(func() error {
				ack, key, err := r.push(ctx, c, ev)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.WithFields(log.Fields{
						"node_role": c.Role,
						"tx_id":     ev.TxID,
					}).Warnf("Ledger replication failed: %v", err)
					out.Failures = append(out.Failures, fmt.Sprintf("%s/%s: %v", c.Role, ev.Type, err))
					return nil
				}
				out.Acks = append(out.Acks, *ack)
				out.Keys[ack.Kid] = key
				return nil
			})
		}
	}
	g.Wait()

	sort.Slice(out.Acks, func(i, j int) bool {
		if out.Acks[i].Role != out.Acks[j].Role {
			return out.Acks[i].Role < out.Acks[j].Role
		}
		return out.Acks[i].TxID < out.Acks[j].TxID
	})
	sort.Strings(out.Failures)
	return out
}

func (r *Replicator) push(ctx context.Context, c *ledger.Client, ev *models.VclEvent) (*models.LedgerAck, string, error) {
	key, err := r.nodeKey(ctx, c)
	if err != nil {
		return nil, "", err
	}
	res, err := c.Append(ctx, ev)
	if err != nil {
		return nil, "", err
	}
	if res.Ack.TxID != ev.TxID || res.Entry.Event.TxID != ev.TxID {
		return nil, "", xerrors.New("ack does not reference the event")
	}
	if !ledger.VerifyAck(res.Ack, key) {
		return nil, "", xerrors.New("ack signature does not verify")
	}
	jwk, err := key.MarshalJSON()
	if err != nil {
		return nil, "", err
	}
	return res.Ack, string(jwk), nil
}

// nodeKey fetches and caches a node's ack key.
func (r *Replicator) nodeKey(ctx context.Context, c *ledger.Client) (jose.JSONWebKey, error) {
	r.mu.Lock()
	key, ok := r.keys[c.BaseURL]
	r.mu.Unlock()
	if ok {
		return key, nil
	}
	info, err := c.Node(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	if info.Role != c.Role {
		return jose.JSONWebKey{}, xerrors.Errorf("node serves role %s, expected %s", info.Role, c.Role)
	}
	r.mu.Lock()
	r.keys[c.BaseURL] = info.SigningKey
	r.mu.Unlock()
	return info.SigningKey, nil
}

// replicateAndRecord replicates events and stores the acks obtained.
func (vs *VotingService) replicateAndRecord(ctx context.Context, events ...*models.VclEvent) *Replication {
	rep := vs.replicator.Replicate(ctx, events...)
	vs.metrics.RecordReplicationFailures(len(rep.Failures))
	if len(rep.Acks) == 0 {
		return rep
	}
	err := vs.update(func(st *models.ElectionState) error {
		recordAcks(st, rep)
		return nil
	})
	if err != nil {
		log.Warnf("Failed to record ledger acks: %v", err)
	}
	return rep
}

func recordAcks(st *models.ElectionState, rep *Replication) {
	for _, ack := range rep.Acks {
		st.LedgerAcks[ack.TxID] = append(st.LedgerAcks[ack.TxID], ack)
	}
	for kid, jwk := range rep.Keys {
		st.LedgerKeys[kid] = jwk
	}
}

// VerifyLedgerAck checks an ack against the node key recorded when it was
// obtained.
func VerifyLedgerAck(st *models.ElectionState, ack *models.LedgerAck) bool {
	raw, ok := st.LedgerKeys[ack.Kid]
	if !ok {
		return false
	}
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON([]byte(raw)); err != nil {
		return false
	}
	return ledger.VerifyAck(ack, key)
}

// Audit reads back every target's ledger and checks its hash chain and
// that the acks recorded in acks still match entries on it. Reports come
// back in target order.
func (r *Replicator) Audit(ctx context.Context, acks map[string][]models.LedgerAck) []*models.VerificationReport {
	reports := make([]*models.VerificationReport, len(r.clients))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, c := range r.clients {
		i, c := i, c
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			reports[i] = auditNode(ctx, c, acks)
			return nil
		})
	}
	g.Wait()
	return reports
}

func auditNode(ctx context.Context, c *ledger.Client, acks map[string][]models.LedgerAck) *models.VerificationReport {
	report := models.NewReport(fmt.Sprintf("ledger %s %s", c.Role, c.BaseURL))
	info, err := c.Node(ctx)
	if !report.Add("reachable", err == nil, errDetail(err)) {
		return report
	}
	report.Add("role", info.Role == c.Role, fmt.Sprintf("node serves %s", info.Role))
	entries, err := c.AllEntries(ctx)
	if !report.Add("entries", err == nil, errDetail(err)) {
		return report
	}
	report.Merge("chain/", ledger.VerifyChain(entries))

	byIndex := make(map[uint64]*models.LedgerEntry, len(entries))
	for _, e := range entries {
		byIndex[e.Index] = e
	}
	held, missing := 0, 0
	for _, list := range acks {
		for _, ack := range list {
			if ack.Kid != info.SigningKey.KeyID {
				continue
			}
			held++
			e := byIndex[ack.Index]
			if e == nil || e.Hash != ack.EntryHash || e.Event.TxID != ack.TxID {
				missing++
			}
		}
	}
	report.Add("acked_entries", missing == 0, fmt.Sprintf("%d of %d acked entries present", held-missing, held))
	return report
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// VerifyRemoteLedgers audits every configured ledger node against the acks
// this engine holds.
func (vs *VotingService) VerifyRemoteLedgers(ctx context.Context) ([]*models.VerificationReport, error) {
	var acks map[string][]models.LedgerAck
	err := vs.view(func(st *models.ElectionState) error {
		acks = st.LedgerAcks
		return nil
	})
	if err != nil {
		return nil, asError("verify remote ledgers", err)
	}
	return vs.replicator.Audit(ctx, acks), nil
}
