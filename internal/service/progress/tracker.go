// Package progress tracks upload pipeline state in memory. Progress is a
// live view for polling clients, not a system of record: entries vanish on
// restart and get swept once they go stale.
package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// maxStoredErrors bounds the per-upload error log so a pathological upload
// cannot grow without limit.
const maxStoredErrors = 20

type entry struct {
	progress domain.UploadProgress
	chats    map[string]struct{}
}

// Tracker implements domain.ProgressReporter over a mutex-guarded map.
type Tracker struct {
	mu      sync.RWMutex
	uploads map[string]*entry
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		uploads: map[string]*entry{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Begin registers a fresh upload in the receiving stage.
func (t *Tracker) Begin(uploadID string, totalConversations int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[uploadID] = &entry{
		progress: domain.UploadProgress{
			UploadID:           uploadID,
			Status:             domain.StatusPending,
			Stage:              domain.StageReceiving,
			TotalConversations: totalConversations,
			StartTime:          now,
			LastUpdate:         now,
		},
		chats: map[string]struct{}{},
	}
}

// SetStage moves the upload to the given stage. The first stage change
// flips a pending upload to processing.
func (t *Tracker) SetStage(uploadID string, stage domain.ProcessingStage, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	if e.progress.Status == domain.StatusPending {
		e.progress.Status = domain.StatusProcessing
	}
	e.progress.Stage = stage
	e.progress.Details = details
	e.progress.LastUpdate = t.now()
}

// SetJobTotals fixes the denominator for percentage reporting.
func (t *Tracker) SetJobTotals(uploadID string, totalJobs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.TotalJobs = totalJobs
	e.progress.LastUpdate = t.now()
}

// JobDone counts one finished job.
func (t *Tracker) JobDone(uploadID string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	if failed {
		e.progress.FailedJobs++
	} else {
		e.progress.CompletedJobs++
	}
	e.progress.LastUpdate = t.now()
}

// ChatsProcessed counts chats whose analysis rows have landed. Repeated ids
// count once.
func (t *Tracker) ChatsProcessed(uploadID string, chatIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	for _, id := range chatIDs {
		e.chats[id] = struct{}{}
	}
	e.progress.ProcessedConversations = len(e.chats)
	e.progress.LastUpdate = t.now()
}

// AddFiltered accumulates validation drop counts.
func (t *Tracker) AddFiltered(uploadID string, autoresponses, invalid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.Statistics.FilteredAutoresponses += autoresponses
	e.progress.Statistics.FilteredInvalid += invalid
	e.progress.LastUpdate = t.now()
}

// AddSkipped counts chats dropped because they were already processed.
func (t *Tracker) AddSkipped(uploadID string, chats int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.Statistics.SkippedChats += chats
	e.progress.LastUpdate = t.now()
}

// AddAICall accumulates model call statistics.
func (t *Tracker) AddAICall(uploadID string, failed bool, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.Statistics.AICallsMade++
	if failed {
		e.progress.Statistics.AIFailures++
	}
	e.progress.Statistics.TokensUsed += tokens
	e.progress.LastUpdate = t.now()
}

// RecordError appends a timestamped error, keeping the newest entries.
func (t *Tracker) RecordError(uploadID string, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.Errors = append(e.progress.Errors, domain.UploadError{
		Timestamp: t.now(),
		Message:   msg,
	})
	if n := len(e.progress.Errors); n > maxStoredErrors {
		e.progress.Errors = e.progress.Errors[n-maxStoredErrors:]
	}
	e.progress.LastUpdate = t.now()
}

// Finish records the terminal status and stamps the end time.
func (t *Tracker) Finish(uploadID string, status domain.ProcessingStatus) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return
	}
	e.progress.Status = status
	e.progress.LastUpdate = now
	e.progress.EndTime = &now
}

// Get returns a copy of one upload's progress.
func (t *Tracker) Get(uploadID string) (domain.UploadProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return domain.UploadProgress{}, false
	}
	return cloneProgress(e.progress), true
}

// All returns copies of every tracked upload, newest first.
func (t *Tracker) All() []domain.UploadProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.UploadProgress, 0, len(t.uploads))
	for _, e := range t.uploads {
		out = append(out, cloneProgress(e.progress))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// Active returns the ids of uploads that have not reached a terminal status.
func (t *Tracker) Active() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.uploads))
	for id, e := range t.uploads {
		if !e.progress.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Remove drops a tracked upload. It refuses to drop one still running.
func (t *Tracker) Remove(uploadID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return fmt.Errorf("%w: upload %s", domain.ErrNotFound, uploadID)
	}
	if !e.progress.Status.Terminal() {
		return fmt.Errorf("%w: upload %s is still running", domain.ErrInvalidArgument, uploadID)
	}
	delete(t.uploads, uploadID)
	return nil
}

// Sweep removes terminal uploads older than maxAge and returns how many
// were dropped. Running uploads are never swept.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.uploads {
		if !e.progress.Status.Terminal() {
			continue
		}
		last := e.progress.LastUpdate
		if e.progress.EndTime != nil {
			last = *e.progress.EndTime
		}
		if last.Before(cutoff) {
			delete(t.uploads, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("swept stale upload progress", slog.Int("removed", removed))
	}
	return removed
}

func cloneProgress(p domain.UploadProgress) domain.UploadProgress {
	out := p
	if p.EndTime != nil {
		end := *p.EndTime
		out.EndTime = &end
	}
	out.Errors = make([]domain.UploadError, len(p.Errors))
	copy(out.Errors, p.Errors)
	return out
}
