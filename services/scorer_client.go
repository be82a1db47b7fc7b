package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Verdict is the scorer's terminal answer for one sample.
type Verdict struct {
	Score    float64 `json:"score"`
	Approved bool    `json:"approved"`
}

// Scorer is the external quality-evaluation collaborator. Opaque: somewhere
// behind it sits the hand-landmark model, but this service only sees a score
// and a pass/fail signal.
type Scorer interface {
	Evaluate(ctx context.Context, payloadReference, label string) (*Verdict, error)
}

// ScorerClient calls the evaluation service over HTTP.
type ScorerClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewScorerClient(baseURL, token string, timeout time.Duration) *ScorerClient {
	return &ScorerClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Evaluate posts the payload reference and claimed label to the scorer.
// Transport errors, timeouts, and non-200s all come back wrapped in
// ErrScorerUnavailable so the scheduler treats them as transient.
func (c *ScorerClient) Evaluate(ctx context.Context, payloadReference, label string) (*Verdict, error) {
	url := fmt.Sprintf("%s/evaluate", c.BaseURL)

	reqBody := map[string]interface{}{
		"payload_reference": payloadReference,
		"label":             label,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("[SCORER] /evaluate returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: status %d", ErrScorerUnavailable, resp.StatusCode)
	}

	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrScorerUnavailable, err)
	}
	return &v, nil
}
