// Package ai holds the provider-independent pieces of the LLM adapter: the
// batch prompt, the strict response parser, retry and observability
// decorators. Provider clients live in the subpackages.
package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// BuildBatchPrompt renders one prompt covering every conversation-day in the
// batch. Units are indexed so the model answers positionally; the parser
// holds it to that.
func BuildBatchPrompt(units []domain.AnalysisUnit) string {
	var b strings.Builder
	b.WriteString("Analyze the following batch of customer service conversation days and score each one.\n")
	b.WriteString("Each conversation day is one calendar day of messages between a customer (to_company) and a support agent (to_client).\n\n")
	b.WriteString("CONVERSATION_DAYS:\n")
	for i, u := range units {
		fmt.Fprintf(&b, "--- Conversation day %d (chat %s, %s) ---\n", i, u.ChatID, u.Date.Format("2006-01-02"))
		for _, m := range u.Messages {
			content := m.Content
			if content == "" {
				content = "(empty message)"
			}
			fmt.Fprintf(&b, "[%s %s] %s\n", m.Direction, m.SocialCreateTime.Format(time.RFC3339), content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `Provide the analysis as a JSON array with EXACTLY %d objects, one per conversation day, in the same order as above. Use this EXACT JSON format for each object in the array:
{
    "sentiment_score": <0-10 number>,
    "sentiment_shift": <-5 to +5 number>,
    "resolution_achieved": <0-10 number>,
    "fcr_score": <0-10 number>,
    "ces": <1-7 number>
}

ANALYSIS GUIDELINES:
- sentiment_score: overall customer sentiment for the day. 0=hostile, 5=neutral, 10=delighted.
- sentiment_shift: change in customer sentiment from the first to the last customer message. Negative means the customer left angrier.
- resolution_achieved: how completely the customer's issue was resolved that day. 10=fully resolved or satisfaction expressed.
- fcr_score: how well the issue was handled without requiring repeated contact. 10=resolved at first contact.
- ces: customer effort score. 1=effortless for the customer, 7=the customer had to fight for every step.
- Score only from the messages shown. Be concise and accurate.
- Ensure the output is a valid JSON array with no surrounding text.
`, len(units))
	return b.String()
}
