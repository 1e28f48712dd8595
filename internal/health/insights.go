package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"theravox/internal/domain"
)

type HeartRatePoint struct {
	Timestamp time.Time `json:"timestamp"`
	BPM       float64   `json:"bpm"`
}

type SleepSpan struct {
	Stage string    `json:"stage"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	HeartRate []HeartRatePoint `json:"heart_rate"`
	Sleep     []SleepSpan      `json:"sleep"`
}

// AnalyzeResponse mirrors the completion envelope returned by /analyze.
type AnalyzeResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewAnalyzeRequest(samples []domain.BiometricSample) AnalyzeRequest {
	req := AnalyzeRequest{HeartRate: []HeartRatePoint{}, Sleep: []SleepSpan{}}
	for _, s := range samples {
		switch s.Kind {
		case domain.BiometricHeartRate:
			req.HeartRate = append(req.HeartRate, HeartRatePoint{Timestamp: s.Start.UTC(), BPM: s.Value})
		case domain.BiometricSleepStage:
			req.Sleep = append(req.Sleep, SleepSpan{Stage: s.Label, Start: s.Start.UTC(), End: s.End.UTC()})
		}
	}
	return req
}

// InsightsClient calls a remote /analyze endpoint.
type InsightsClient struct {
	baseURL string
	http    *http.Client
}

const maxInsightsBody = 1 << 20

func NewInsightsClient(baseURL string, httpClient *http.Client) *InsightsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &InsightsClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

func (c *InsightsClient) Enabled() bool {
	return c != nil && c.baseURL != ""
}

func (c *InsightsClient) Analyze(ctx context.Context, samples []domain.BiometricSample) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("insights service is not configured")
	}

	body, err := json.Marshal(NewAnalyzeRequest(samples))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.KindInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxInsightsBody))
	if err != nil {
		return "", domain.TransportError(ctx, err)
	}
	if resp.StatusCode >= 300 {
		return "", domain.StatusError(resp.StatusCode, fmt.Errorf("insights status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var out AnalyzeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", domain.NewError(domain.KindMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", domain.NewError(domain.KindMalformedResponse, fmt.Errorf("no choices in insights response"))
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", domain.ErrEmptyResponse
	}
	return content, nil
}
