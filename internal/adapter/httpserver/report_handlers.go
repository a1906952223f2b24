package httpserver

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

const dateLayout = "2006-01-02"

// metricsDoc flattens Metric cache rows into the dashboard document. The
// last-updated row rides in metadata and surfaces as an RFC 3339 string.
func metricsDoc(rows []domain.Metric) map[string]any {
	doc := make(map[string]any, len(rows))
	for _, m := range rows {
		if m.Name == usecase.MetricLastUpdated {
			if ts, ok := m.Metadata["timestamp"]; ok {
				doc["last_updated"] = ts
			} else {
				doc["last_updated"] = m.CalculatedAt.UTC().Format(time.RFC3339)
			}
			continue
		}
		doc[m.Name] = m.Value
	}
	return doc
}

// MetricsHandler serves the aggregate metric cache, computing it first when empty.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.Metrics.Cached(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("metrics: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, metricsDoc(rows))
	}
}

// RecalculateMetricsHandler recomputes the aggregates and rewrites the cache.
func (s *Server) RecalculateMetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.Metrics.Recalculate(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("metrics recalculate: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, metricsDoc(rows))
	}
}

type conversationDTO struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	CustomerName     string    `json:"customer_name,omitempty"`
	TotalMessages    int       `json:"total_messages"`
	CustomerMessages int       `json:"customer_messages"`
	AgentMessages    int       `json:"agent_messages"`
	FirstMessageTime time.Time `json:"first_message_time"`
	LastMessageTime  time.Time `json:"last_message_time"`
	CommonTopics     []string  `json:"common_topics,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type conversationSummaryDTO struct {
	conversationDTO
	AnalyzedDays int      `json:"analyzed_days"`
	AvgCSI       *float64 `json:"avg_csi_score"`
}

type messageDTO struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	Content          string    `json:"message_content"`
	Direction        string    `json:"direction"`
	SocialCreateTime time.Time `json:"social_create_time"`
	AgentUsername    *string   `json:"agent_username,omitempty"`
	AgentEmail       *string   `json:"agent_email,omitempty"`
}

type dailyAnalysisDTO struct {
	ID                 string   `json:"id"`
	ChatID             string   `json:"chat_id"`
	AnalysisDate       string   `json:"analysis_date"`
	SentimentScore     *float64 `json:"sentiment_score"`
	SentimentShift     *float64 `json:"sentiment_shift"`
	ResolutionAchieved *float64 `json:"resolution_achieved"`
	FCRScore           *float64 `json:"fcr_score"`
	CES                *float64 `json:"ces"`
	FirstResponseTime  *float64 `json:"first_response_time_seconds"`
	AvgResponseTime    *float64 `json:"avg_response_time_seconds"`
	TotalHandlingTime  *float64 `json:"total_handling_time_minutes"`
	EffectivenessScore *float64 `json:"effectiveness_score"`
	EffortScore        *float64 `json:"effort_score"`
	EfficiencyScore    *float64 `json:"efficiency_score"`
	EmpathyScore       *float64 `json:"empathy_score"`
	CSIScore           *float64 `json:"csi_score"`
	AnalysisError      string   `json:"analysis_error,omitempty"`
}

func conversationDoc(c domain.Conversation) conversationDTO {
	return conversationDTO{
		ID:               c.ID,
		ChatID:           c.ChatID,
		CustomerName:     c.CustomerName,
		TotalMessages:    c.TotalMessages,
		CustomerMessages: c.CustomerMessages,
		AgentMessages:    c.AgentMessages,
		FirstMessageTime: c.FirstMessageTime,
		LastMessageTime:  c.LastMessageTime,
		CommonTopics:     c.CommonTopics,
		UpdatedAt:        c.UpdatedAt,
	}
}

func messageDoc(m domain.Message) messageDTO {
	return messageDTO{
		ID:               m.ID,
		ChatID:           m.ChatID,
		Content:          m.Content,
		Direction:        string(m.Direction),
		SocialCreateTime: m.SocialCreateTime,
		AgentUsername:    m.AgentUsername,
		AgentEmail:       m.AgentEmail,
	}
}

func dailyAnalysisDoc(d domain.DailyAnalysis) dailyAnalysisDTO {
	return dailyAnalysisDTO{
		ID:                 d.ID,
		ChatID:             d.ChatID,
		AnalysisDate:       d.AnalysisDate.UTC().Format(dateLayout),
		SentimentScore:     d.SentimentScore,
		SentimentShift:     d.SentimentShift,
		ResolutionAchieved: d.ResolutionAchieved,
		FCRScore:           d.FCRScore,
		CES:                d.CES,
		FirstResponseTime:  d.FirstResponseTime,
		AvgResponseTime:    d.AvgResponseTime,
		TotalHandlingTime:  d.TotalHandlingTime,
		EffectivenessScore: d.EffectivenessScore,
		EffortScore:        d.EffortScore,
		EfficiencyScore:    d.EfficiencyScore,
		EmpathyScore:       d.EmpathyScore,
		CSIScore:           d.CSIScore,
		AnalysisError:      d.AnalysisError,
	}
}

// ConversationsHandler serves the paginated conversation list with the mean
// CSI over each conversation's scored days.
func (s *Server) ConversationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if v := ValidatePagination(q.Get("page"), q.Get("page_size")); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid pagination", domain.ErrInvalidArgument), v.Errors)
			return
		}
		search := SanitizeString(q.Get("search"))
		if v := ValidateSearchQuery(search); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid search query", domain.ErrInvalidArgument), v.Errors)
			return
		}
		page, _ := strconv.Atoi(q.Get("page"))
		pageSize, _ := strconv.Atoi(q.Get("page_size"))

		res, err := s.Reports.ListConversations(r.Context(), search, page, pageSize)
		if err != nil {
			writeError(w, r, fmt.Errorf("list conversations: %w", err), nil)
			return
		}
		items := make([]conversationSummaryDTO, 0, len(res.Conversations))
		for _, c := range res.Conversations {
			items = append(items, conversationSummaryDTO{
				conversationDTO: conversationDoc(c.Conversation),
				AnalyzedDays:    c.AnalyzedDays,
				AvgCSI:          c.AvgCSI,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversations": items,
			"total":         res.Total,
			"page":          res.Page,
			"page_size":     res.PageSize,
			"total_pages":   res.TotalPages,
		})
	}
}

// ConversationDetailHandler serves one conversation with its messages and
// per-day analyses.
func (s *Server) ConversationDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chatID")
		if v := ValidateChatID(chatID); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid chat id", domain.ErrInvalidArgument), v.Errors)
			return
		}
		detail, err := s.Reports.Conversation(r.Context(), chatID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		msgs := make([]messageDTO, 0, len(detail.Messages))
		for _, m := range detail.Messages {
			msgs = append(msgs, messageDoc(m))
		}
		days := make([]dailyAnalysisDTO, 0, len(detail.Days))
		for _, d := range detail.Days {
			days = append(days, dailyAnalysisDoc(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation":   conversationDoc(detail.Conversation),
			"messages":       msgs,
			"daily_analyses": days,
			"avg_csi_score":  detail.AvgCSI,
		})
	}
}

func (s *Server) trendDays(r *http.Request) (int, *ValidationResult) {
	raw := r.URL.Query().Get("days")
	if v := ValidateDays(raw); !v.Valid {
		return 0, &v
	}
	if raw == "" {
		return 30, nil
	}
	n, _ := strconv.Atoi(raw)
	return n, nil
}

// CSITrendHandler serves per-day CSI averages over the trailing window.
func (s *Server) CSITrendHandler() http.HandlerFunc {
	type point struct {
		Date       string   `json:"date"`
		AvgCSI     *float64 `json:"avg_csi_score"`
		ScoredDays int      `json:"scored_days"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		days, verr := s.trendDays(r)
		if verr != nil {
			writeError(w, r, fmt.Errorf("%w: invalid days", domain.ErrInvalidArgument), verr.Errors)
			return
		}
		points, err := s.Reports.Trend(r.Context(), days)
		if err != nil {
			writeError(w, r, fmt.Errorf("csi trend: %w", err), nil)
			return
		}
		out := make([]point, 0, len(points))
		for _, p := range points {
			out = append(out, point{Date: p.Date.UTC().Format(dateLayout), AvgCSI: p.AvgCSI, ScoredDays: p.Days})
		}
		writeJSON(w, http.StatusOK, map[string]any{"days": days, "points": out})
	}
}

// SentimentTrendHandler serves per-day sentiment averages over the trailing window.
func (s *Server) SentimentTrendHandler() http.HandlerFunc {
	type point struct {
		Date         string   `json:"date"`
		AvgSentiment *float64 `json:"avg_sentiment_score"`
		ScoredDays   int      `json:"scored_days"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		days, verr := s.trendDays(r)
		if verr != nil {
			writeError(w, r, fmt.Errorf("%w: invalid days", domain.ErrInvalidArgument), verr.Errors)
			return
		}
		points, err := s.Reports.Trend(r.Context(), days)
		if err != nil {
			writeError(w, r, fmt.Errorf("sentiment trend: %w", err), nil)
			return
		}
		out := make([]point, 0, len(points))
		for _, p := range points {
			out = append(out, point{Date: p.Date.UTC().Format(dateLayout), AvgSentiment: p.AvgSentiment, ScoredDays: p.Days})
		}
		writeJSON(w, http.StatusOK, map[string]any{"days": days, "points": out})
	}
}

// ExportDailyAnalysesHandler streams the scored rows as a CSV attachment.
// The optional since parameter (YYYY-MM-DD) bounds the export window.
func (s *Server) ExportDailyAnalysesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(dateLayout, raw)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: since must be YYYY-MM-DD", domain.ErrInvalidArgument), map[string]string{"since": raw})
				return
			}
			since = t.UTC()
		}
		// Buffer so query failures can still answer with a JSON error.
		var buf bytes.Buffer
		n, err := s.Reports.ExportDailyAnalysesCSV(r.Context(), &buf, since)
		if err != nil {
			writeError(w, r, fmt.Errorf("export: %w", err), nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="daily-analyses.csv"`)
		w.Header().Set("X-Row-Count", strconv.Itoa(n))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(buf.Bytes()); err != nil {
			LoggerFrom(r).Warn("csv export write failed", slog.Any("error", err))
		}
	}
}
