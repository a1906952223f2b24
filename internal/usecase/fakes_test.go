package usecase_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// Hand-rolled fakes shared by the tests in this package. They record calls
// under a mutex because the pipeline runs on background goroutines.

func fptr(v float64) *float64 { return &v }

type fakeConversationStore struct {
	mu      sync.Mutex
	ingests [][]domain.GroupedChat
	units   []domain.AnalysisUnit
	err     error

	conv      domain.Conversation
	convErr   error
	summaries []domain.ConversationSummary
	listTotal int
	lastQuery domain.ConversationQuery
}

func (f *fakeConversationStore) IngestChats(_ domain.Context, chats []domain.GroupedChat) ([]domain.AnalysisUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.ingests = append(f.ingests, chats)
	if f.units != nil {
		return f.units, nil
	}
	// Default: one unit per (chat, day), ids derived deterministically.
	var units []domain.AnalysisUnit
	for _, c := range chats {
		for _, d := range c.Days {
			units = append(units, domain.AnalysisUnit{
				DailyAnalysisID: fmt.Sprintf("da-%s-%s", c.ChatID, d.Date.Format("2006-01-02")),
				ChatID:          c.ChatID,
				Date:            d.Date,
				Messages:        d.Messages,
			})
		}
	}
	return units, nil
}

func (f *fakeConversationStore) GetByChatID(_ domain.Context, chatID string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return domain.Conversation{}, f.convErr
	}
	if f.conv.ChatID != chatID {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeConversationStore) MessagesByConversation(_ domain.Context, _ string) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeConversationStore) List(_ domain.Context, q domain.ConversationQuery) ([]domain.ConversationSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.summaries, f.listTotal, nil
}

func (f *fakeConversationStore) ingestedChats() []domain.GroupedChat {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ingests) == 0 {
		return nil
	}
	return f.ingests[len(f.ingests)-1]
}

type completedCall struct {
	id      string
	status  domain.JobStatus
	updates []domain.ScoreUpdate
	result  domain.JobResult
}

type fakeJobStore struct {
	mu          sync.Mutex
	seq         int
	created     []domain.Job
	inProgress  []string
	completed   []completedCall
	failFirst   int // number of CompleteJob calls to fail before succeeding
	createErr   error
	completeErr error
}

func (f *fakeJobStore) Create(_ domain.Context, uploadID string, analysisIDs []string, tokenEstimate int) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Job{}, f.createErr
	}
	f.seq++
	j := domain.Job{
		ID:            fmt.Sprintf("job-%d", f.seq),
		UploadID:      uploadID,
		Status:        domain.JobPending,
		TokenEstimate: tokenEstimate,
		CreatedAt:     time.Now().UTC(),
	}
	f.created = append(f.created, j)
	return j, nil
}

func (f *fakeJobStore) MarkInProgress(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inProgress = append(f.inProgress, id)
	return nil
}

func (f *fakeJobStore) CompleteJob(_ domain.Context, id string, status domain.JobStatus, updates []domain.ScoreUpdate, result domain.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return domain.ErrInternal
	}
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, completedCall{id: id, status: status, updates: updates, result: result})
	return nil
}

func (f *fakeJobStore) Get(_ domain.Context, id string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}

func (f *fakeJobStore) ListByUpload(_ domain.Context, uploadID string) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []domain.Job
	for _, j := range f.created {
		if j.UploadID != uploadID {
			continue
		}
		for _, c := range f.completed {
			if c.id == j.ID {
				j.Status = c.status
				j.Result = c.result
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (f *fakeJobStore) FailStale(_ domain.Context, _ time.Time) (int, error) { return 0, nil }

func (f *fakeJobStore) completedCalls() []completedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]completedCall, len(f.completed))
	copy(out, f.completed)
	return out
}

type fakeProcessedStore struct {
	mu        sync.Mutex
	processed map[string]bool
	marked    []domain.ProcessedChat
}

func (f *fakeProcessedStore) IsProcessed(_ domain.Context, chatID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[chatID], nil
}

func (f *fakeProcessedStore) MarkProcessed(_ domain.Context, chats []domain.ProcessedChat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed == nil {
		f.processed = map[string]bool{}
	}
	for _, c := range chats {
		f.processed[c.ChatID] = true
	}
	f.marked = append(f.marked, chats...)
	return nil
}

func (f *fakeProcessedStore) markedChats() []domain.ProcessedChat {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ProcessedChat, len(f.marked))
	copy(out, f.marked)
	return out
}

type fakeAnalysisStore struct {
	mu        sync.Mutex
	snapshot  domain.AggregateSnapshot
	rows      []domain.DailyAnalysis
	trend     []domain.TrendPoint
	derived   map[string]domain.DerivedScores
	aggCalls  int
	listedFor []string
}

func (f *fakeAnalysisStore) ListByConversation(_ domain.Context, conversationID string) ([]domain.DailyAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listedFor = append(f.listedFor, conversationID)
	return f.rows, nil
}

func (f *fakeAnalysisStore) ListScored(_ domain.Context, _ time.Time) ([]domain.DailyAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, nil
}

func (f *fakeAnalysisStore) UpdateDerived(_ domain.Context, id string, d domain.DerivedScores) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.derived == nil {
		f.derived = map[string]domain.DerivedScores{}
	}
	f.derived[id] = d
	return nil
}

func (f *fakeAnalysisStore) Aggregates(_ domain.Context) (domain.AggregateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggCalls++
	return f.snapshot, nil
}

func (f *fakeAnalysisStore) DailyTrend(_ domain.Context, _ int) ([]domain.TrendPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trend, nil
}

type fakeMetricStore struct {
	mu       sync.Mutex
	rows     []domain.Metric
	replaces int
}

func (f *fakeMetricStore) Replace(_ domain.Context, metrics []domain.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = metrics
	f.replaces++
	return nil
}

func (f *fakeMetricStore) List(_ domain.Context) ([]domain.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, nil
}

func (f *fakeMetricStore) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaces
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	records []domain.AnalysisRecord
	usage   *domain.TokenUsage
	err     error
	calls   int
	onCall  func()
	perCall func(units []domain.AnalysisUnit) []domain.AnalysisRecord
}

func (f *fakeAnalyzer) AnalyzeDailyBatch(_ domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.perCall != nil {
		return f.perCall(units), f.usage, nil
	}
	if f.records != nil {
		return f.records, f.usage, nil
	}
	out := make([]domain.AnalysisRecord, len(units))
	for i := range out {
		out[i] = domain.AnalysisRecord{SentimentScore: 7, SentimentShift: 1, ResolutionAchieved: 8, FCRScore: 8, CES: 2}
	}
	return out, f.usage, nil
}

func (f *fakeAnalyzer) Name() string { return "fake" }

// fakeProgress records reporter calls and signals Finish via done.
type fakeProgress struct {
	mu         sync.Mutex
	began      map[string]int
	stages     []domain.ProcessingStage
	jobTotals  int
	jobsDone   int
	jobsFailed int
	chats      map[string]struct{}
	auto       int
	invalid    int
	skipped    int
	aiCalls    int
	aiFailures int
	tokens     int
	errors     []string
	final      domain.ProcessingStatus
	done       chan struct{}
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{began: map[string]int{}, chats: map[string]struct{}{}, done: make(chan struct{})}
}

func (f *fakeProgress) Begin(uploadID string, totalConversations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.began[uploadID] = totalConversations
}

func (f *fakeProgress) SetStage(_ string, stage domain.ProcessingStage, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *fakeProgress) SetJobTotals(_ string, totalJobs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobTotals = totalJobs
}

func (f *fakeProgress) JobDone(_ string, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobsDone++
	if failed {
		f.jobsFailed++
	}
}

func (f *fakeProgress) ChatsProcessed(_ string, chatIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chatIDs {
		f.chats[id] = struct{}{}
	}
}

func (f *fakeProgress) AddFiltered(_ string, autoresponses, invalid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auto += autoresponses
	f.invalid += invalid
}

func (f *fakeProgress) AddSkipped(_ string, chats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped += chats
}

func (f *fakeProgress) AddAICall(_ string, failed bool, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aiCalls++
	if failed {
		f.aiFailures++
	}
	f.tokens += tokens
}

func (f *fakeProgress) RecordError(_ string, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
}

func (f *fakeProgress) Finish(_ string, status domain.ProcessingStatus) {
	f.mu.Lock()
	f.final = status
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeProgress) finalStatus() domain.ProcessingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.final
}

func (f *fakeProgress) snapshotStats() (auto, invalid, aiCalls, aiFailures, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto, f.invalid, f.aiCalls, f.aiFailures, f.tokens
}

// inlineScheduler runs tasks synchronously in submission order.
type inlineScheduler struct{}

func (inlineScheduler) Submit(ctx domain.Context, run func(domain.Context) error) <-chan error {
	ch := make(chan error, 1)
	ch <- run(ctx)
	return ch
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.UploadCompletion
}

func (f *fakePublisher) PublishUploadCompleted(_ domain.Context, c domain.UploadCompletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, c)
	return nil
}

func (f *fakePublisher) published() []domain.UploadCompletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.UploadCompletion, len(f.events))
	copy(out, f.events)
	return out
}
