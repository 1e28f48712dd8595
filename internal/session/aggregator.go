package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "log/slog"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

const (
	DefaultSummaryWindow = 5

	summaryTemplate     = "Summarize this in 20 words: %s"
	summaryUnavailable  = "Summary unavailable."
	noConversation      = "No previous conversation."
	insightsUnavailable = "Health Insights are unavailable."
)

// CompositeRequest is the short-lived input of one chat call.
type CompositeRequest struct {
	Transcript string
	Summary    string
	Biometrics string
}

// String renders the fixed prompt template: message, summary, biometrics.
func (r CompositeRequest) String() string {
	var b strings.Builder
	b.WriteString("Message: ")
	b.WriteString(r.Transcript)
	b.WriteString("\n\nRecent Conversation Summary:\n")
	b.WriteString(r.Summary)
	b.WriteString("\n\nHealth Insights:\n")
	b.WriteString(r.Biometrics)
	return b.String()
}

// Aggregator combines the transcript, a summary of recent turns, and the
// biometric context into one prompt.
type Aggregator struct {
	chat   ports.ChatBackend
	window int
}

func NewAggregator(chat ports.ChatBackend, window int) *Aggregator {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	return &Aggregator{chat: chat, window: window}
}

// BuildPrompt never fails: a summary error degrades to a placeholder.
func (a *Aggregator) BuildPrompt(
	ctx context.Context,
	provider domain.ProviderID,
	transcript string,
	history []domain.ConversationTurn,
	samples []domain.BiometricSample,
	insights string,
) string {
	return CompositeRequest{
		Transcript: transcript,
		Summary:    a.summarize(ctx, provider, history),
		Biometrics: FormatBiometrics(samples, insights),
	}.String()
}

func (a *Aggregator) summarize(ctx context.Context, provider domain.ProviderID, history []domain.ConversationTurn) string {
	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}

	texts := make([]string, 0, len(history))
	for _, turn := range history {
		if text := strings.TrimSpace(turn.Text); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return noConversation
	}

	summary, err := a.chat.Summarize(ctx, fmt.Sprintf(summaryTemplate, strings.Join(texts, " ")), provider)
	if err != nil {
		log.Warn("Summary request failed", "provider", provider, "err", err)
		return summaryUnavailable
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return summaryUnavailable
	}
	return summary
}

// FormatBiometrics renders samples grouped by kind (heart rate, then sleep),
// keeping input order inside each group, followed by the insights text.
func FormatBiometrics(samples []domain.BiometricSample, insights string) string {
	var heart, sleep []domain.BiometricSample
	for _, s := range samples {
		switch s.Kind {
		case domain.BiometricHeartRate:
			heart = append(heart, s)
		case domain.BiometricSleepStage:
			sleep = append(sleep, s)
		}
	}

	var sections []string
	if len(heart) > 0 {
		lines := []string{"Heart rate:"}
		for _, s := range heart {
			lines = append(lines, fmt.Sprintf("- %.0f bpm (%s)", s.Value, timeRange(s)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if len(sleep) > 0 {
		lines := []string{"Sleep:"}
		for _, s := range sleep {
			lines = append(lines, fmt.Sprintf("- %s (%s)", s.Label, timeRange(s)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if text := strings.TrimSpace(insights); text != "" {
		sections = append(sections, "Analysis:\n"+text)
	}

	if len(sections) == 0 {
		return insightsUnavailable
	}
	return strings.Join(sections, "\n\n")
}

func timeRange(s domain.BiometricSample) string {
	return s.Start.UTC().Format(time.RFC3339) + " - " + s.End.UTC().Format(time.RFC3339)
}
