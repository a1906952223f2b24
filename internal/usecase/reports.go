package usecase

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// ReportService serves the read-side endpoints from persisted rows.
type ReportService struct {
	Conversations domain.ConversationStore
	Analyses      domain.AnalysisStore
}

// NewReportService constructs a ReportService with its stores.
func NewReportService(c domain.ConversationStore, a domain.AnalysisStore) ReportService {
	return ReportService{Conversations: c, Analyses: a}
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Conversations []domain.ConversationSummary
	Total         int
	Page          int
	PageSize      int
	TotalPages    int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListConversations returns a page of conversations, optionally filtered by
// a chat id substring.
func (s ReportService) ListConversations(ctx domain.Context, search string, page, pageSize int) (ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := s.Conversations.List(ctx, domain.ConversationQuery{
		Search: search,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return ConversationPage{}, fmt.Errorf("op=usecase.ListConversations: %w", err)
	}
	return ConversationPage{
		Conversations: items,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    (total + pageSize - 1) / pageSize,
	}, nil
}

// ConversationDetail is one conversation with its messages and analyzed days.
type ConversationDetail struct {
	Conversation domain.Conversation
	Messages     []domain.Message
	Days         []domain.DailyAnalysis
	AvgCSI       *float64
}

// Conversation loads one conversation by chat id together with its messages,
// daily analyses and the mean CSI over scored days.
func (s ReportService) Conversation(ctx domain.Context, chatID string) (ConversationDetail, error) {
	conv, err := s.Conversations.GetByChatID(ctx, chatID)
	if err != nil {
		return ConversationDetail{}, err
	}
	msgs, err := s.Conversations.MessagesByConversation(ctx, conv.ID)
	if err != nil {
		return ConversationDetail{}, fmt.Errorf("op=usecase.Conversation: %w", err)
	}
	days, err := s.Analyses.ListByConversation(ctx, conv.ID)
	if err != nil {
		return ConversationDetail{}, fmt.Errorf("op=usecase.Conversation: %w", err)
	}
	d := ConversationDetail{Conversation: conv, Messages: msgs, Days: days}
	sum, n := 0.0, 0
	for _, day := range days {
		if day.CSIScore != nil {
			sum += *day.CSIScore
			n++
		}
	}
	if n > 0 {
		avg := round2(sum / float64(n))
		d.AvgCSI = &avg
	}
	return d, nil
}

// Trend returns per-day averages over the trailing window for the chart
// endpoints. days is clamped to [1, 365] with a 30-day default.
func (s ReportService) Trend(ctx domain.Context, days int) ([]domain.TrendPoint, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	points, err := s.Analyses.DailyTrend(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Trend: %w", err)
	}
	return points, nil
}

// ExportDailyAnalysesCSV writes scored rows since the given instant as CSV
// and returns the row count. A zero since exports everything.
func (s ReportService) ExportDailyAnalysesCSV(ctx domain.Context, w io.Writer, since time.Time) (int, error) {
	rows, err := s.Analyses.ListScored(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("op=usecase.ExportDailyAnalysesCSV: %w", err)
	}
	cw := csv.NewWriter(w)
	header := []string{
		"chat_id", "analysis_date",
		"sentiment_score", "sentiment_shift", "resolution_achieved", "fcr_score", "ces",
		"first_response_time_seconds", "avg_response_time_seconds", "total_handling_time_minutes",
		"effectiveness_score", "effort_score", "efficiency_score", "empathy_score", "csi_score",
		"analysis_error",
	}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("op=usecase.ExportDailyAnalysesCSV: %w", err)
	}
	for _, d := range rows {
		rec := []string{
			d.ChatID,
			d.AnalysisDate.Format("2006-01-02"),
			csvFloat(d.SentimentScore),
			csvFloat(d.SentimentShift),
			csvFloat(d.ResolutionAchieved),
			csvFloat(d.FCRScore),
			csvFloat(d.CES),
			csvFloat(d.FirstResponseTime),
			csvFloat(d.AvgResponseTime),
			csvFloat(d.TotalHandlingTime),
			csvFloat(d.EffectivenessScore),
			csvFloat(d.EffortScore),
			csvFloat(d.EfficiencyScore),
			csvFloat(d.EmpathyScore),
			csvFloat(d.CSIScore),
			d.AnalysisError,
		}
		if err := cw.Write(rec); err != nil {
			return 0, fmt.Errorf("op=usecase.ExportDailyAnalysesCSV: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("op=usecase.ExportDailyAnalysesCSV: %w", err)
	}
	return len(rows), nil
}

func csvFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
