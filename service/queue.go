package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ewp-backend/models"
)

// QueueProcessor drives credential issuance and the full voter-side cast
// flow from worker goroutines. It backs the simulate command.
type QueueProcessor struct {
	votingService   *VotingService
	issuanceCh      chan *IssuanceRequest
	castCh          chan *CastJob
	resultCh        chan *ProcessingResult
	processingWg    sync.WaitGroup
	shutdownCh      chan struct{}
	workers         int
	processingDelay time.Duration // For benchmarking purposes
}

// IssuanceRequest represents a queued credential issuance
type IssuanceRequest struct {
	VoterID  string
	ResultCh chan<- *ProcessingResult
}

// CastJob is a queued cast: challenge, encrypt, prove and submit.
type CastJob struct {
	VoterID    string
	Selections []models.ContestSelection
	ResultCh   chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous operation
type ProcessingResult struct {
	Success   bool
	VoterID   string
	Code      models.ErrorCode
	Error     string
	Receipt   *models.CastReceipt
	Timestamp int64
}

// NewQueueProcessor creates a new queue processor
func NewQueueProcessor(votingService *VotingService, queueSize, workers int, processingDelay time.Duration) *QueueProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &QueueProcessor{
		votingService:   votingService,
		issuanceCh:      make(chan *IssuanceRequest, queueSize),
		castCh:          make(chan *CastJob, queueSize),
		resultCh:        make(chan *ProcessingResult, queueSize*2),
		shutdownCh:      make(chan struct{}),
		workers:         workers,
		processingDelay: processingDelay,
	}
}

// Start begins processing queued issuances and casts
func (qp *QueueProcessor) Start(ctx context.Context) {
	for i := 0; i < qp.workers; i++ {
		qp.processingWg.Add(2)
		go qp.issuanceWorker(ctx)
		go qp.castWorker(ctx)
	}
}

// Stop gracefully shuts down the queue processor
func (qp *QueueProcessor) Stop() {
	close(qp.shutdownCh)
	qp.processingWg.Wait()
	close(qp.resultCh)
}

// QueueIssuance adds a credential request to the processing queue
func (qp *QueueProcessor) QueueIssuance(voterID string) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	select {
	case qp.issuanceCh <- &IssuanceRequest{VoterID: voterID, ResultCh: resultCh}:
		return resultCh
	default:
		// Queue is full, return immediate error
		resultCh <- &ProcessingResult{
			VoterID: voterID,
			Code:    models.ErrRateLimited,
			Error:   "issuance queue is full",
		}
		close(resultCh)
		return resultCh
	}
}

// QueueCast adds a cast job to the processing queue
func (qp *QueueProcessor) QueueCast(voterID string, selections []models.ContestSelection) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	select {
	case qp.castCh <- &CastJob{VoterID: voterID, Selections: selections, ResultCh: resultCh}:
		return resultCh
	default:
		resultCh <- &ProcessingResult{
			VoterID: voterID,
			Code:    models.ErrRateLimited,
			Error:   "cast queue is full",
		}
		close(resultCh)
		return resultCh
	}
}

func (qp *QueueProcessor) issuanceWorker(ctx context.Context) {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.issuanceCh:
			if qp.processingDelay > 0 {
				time.Sleep(qp.processingDelay)
			}
			_, err := qp.votingService.IssueCredential(ctx, req.VoterID)
			qp.deliver(req.ResultCh, result(req.VoterID, nil, err))
		}
	}
}

func (qp *QueueProcessor) castWorker(ctx context.Context) {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case job := <-qp.castCh:
			if qp.processingDelay > 0 {
				time.Sleep(qp.processingDelay)
			}
			receipt, err := qp.votingService.CastFor(ctx, job.VoterID, job.Selections)
			qp.deliver(job.ResultCh, result(job.VoterID, receipt, err))
		}
	}
}

func (qp *QueueProcessor) deliver(ch chan<- *ProcessingResult, r *ProcessingResult) {
	ch <- r
	close(ch)
	select {
	case qp.resultCh <- r:
	default:
		log.WithField("voter_id", r.VoterID).Debug("Result channel full, dropping monitor copy")
	}
}

func result(voterID string, receipt *models.CastReceipt, err error) *ProcessingResult {
	r := &ProcessingResult{
		Success:   err == nil,
		VoterID:   voterID,
		Receipt:   receipt,
		Timestamp: time.Now().Unix(),
	}
	if err != nil {
		e := models.AsError(err)
		r.Code = e.Code
		r.Error = e.Message
	}
	return r
}

// GetResultChannel returns the channel where all processing results are sent
// This can be used for monitoring or benchmarking
func (qp *QueueProcessor) GetResultChannel() <-chan *ProcessingResult {
	return qp.resultCh
}

// BatchQueueIssuance queues a credential request per voter.
func (qp *QueueProcessor) BatchQueueIssuance(voterIDs []string) []<-chan *ProcessingResult {
	resultChannels := make([]<-chan *ProcessingResult, len(voterIDs))
	for i, id := range voterIDs {
		resultChannels[i] = qp.QueueIssuance(id)
	}
	return resultChannels
}

// CastFor runs the voter side of a cast for a voter holding a credential:
// fetch a challenge, encrypt, build the proof and submit.
func (vs *VotingService) CastFor(ctx context.Context, voterID string, selections []models.ContestSelection) (*models.CastReceipt, error) {
	challenge, err := vs.IssueChallenge()
	if err != nil {
		return nil, err
	}
	sealed, err := vs.EncryptBallot(selections)
	if err != nil {
		return nil, err
	}
	req, err := vs.BuildCastRequest(voterID, challenge, sealed)
	if err != nil {
		return nil, err
	}
	raw, err := vs.CastBallot(ctx, "", req)
	if err != nil {
		return nil, err
	}
	var resp models.CastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, asError("cast for voter", err)
	}
	return resp.CastReceipt, nil
}
