package service

import (
	"sync"
	"time"

	"ewp-backend/models"
)

// VotingSession is the manifest's validity window. It can be closed early,
// after which no further casts are accepted.
type VotingSession struct {
	startTime time.Time
	endTime   time.Time
	isActive  bool
	mu        sync.RWMutex
}

func NewVotingSession(start, end time.Time) *VotingSession {
	return &VotingSession{
		startTime: start,
		endTime:   end,
		isActive:  true,
	}
}

// SessionFromManifest parses the manifest window.
func SessionFromManifest(m *models.ElectionManifest) (*VotingSession, error) {
	start, err := models.ParseTime(m.NotBefore)
	if err != nil {
		return nil, err
	}
	end, err := models.ParseTime(m.NotAfter)
	if err != nil {
		return nil, err
	}
	return NewVotingSession(start, end), nil
}

func (vs *VotingSession) IsActive(now time.Time) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.isActive && !now.Before(vs.startTime) && now.Before(vs.endTime)
}

func (vs *VotingSession) End() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.isActive = false
}
