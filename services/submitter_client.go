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

	"asl-contribution-system/models"
)

// TxStatus is the ledger-side lifecycle of a submitted instruction.
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// RewardInstruction tells the submitter what to mint. Exactly one of the
// kind-specific fields is meaningful per kind.
type RewardInstruction struct {
	Kind             models.RewardKind      `json:"kind"`
	RecipientAddress string                 `json:"recipient_address"`
	Activity         models.ActivityType    `json:"activity,omitempty"`
	XPAmount         int64                  `json:"xp_amount,omitempty"`
	Tier             models.AchievementTier `json:"tier,omitempty"`
	MetadataRef      string                 `json:"metadata_ref,omitempty"`
	Description      string                 `json:"description,omitempty"`
}

// TransactionSubmitter is the external ledger-write collaborator. It owns
// signing, nonces, gas, and its own retry/fee logic; this service only sees
// a handle and, later, a terminal status.
type TransactionSubmitter interface {
	Submit(ctx context.Context, instr RewardInstruction) (txHandle string, err error)
	Poll(ctx context.Context, txHandle string) (TxStatus, error)
}

// SubmitterConfig is the explicit configuration handed to the client at
// construction. Replaces the mutable "current network" singleton the chain
// service used to carry.
type SubmitterConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// SubmitterClient talks to the chain reward service over HTTP.
type SubmitterClient struct {
	cfg    SubmitterConfig
	Client *http.Client
}

func NewSubmitterClient(cfg SubmitterConfig) *SubmitterClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SubmitterClient{
		cfg: cfg,
		Client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Submit sends a mint instruction; the returned handle resolves later via
// Poll. Errors come back wrapped in ErrSubmitterUnavailable.
func (c *SubmitterClient) Submit(ctx context.Context, instr RewardInstruction) (string, error) {
	url := fmt.Sprintf("%s/transactions", c.cfg.BaseURL)

	jsonData, _ := json.Marshal(instr)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitterUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		log.Printf("[SUBMITTER] submit returned %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: status %d", ErrSubmitterUnavailable, resp.StatusCode)
	}

	var out struct {
		TxHandle string `json:"tx_handle"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.TxHandle == "" {
		return "", fmt.Errorf("%w: bad submit response", ErrSubmitterUnavailable)
	}
	return out.TxHandle, nil
}

// Poll asks the ledger service for the current status of a handle.
func (c *SubmitterClient) Poll(ctx context.Context, txHandle string) (TxStatus, error) {
	url := fmt.Sprintf("%s/transactions/%s", c.cfg.BaseURL, txHandle)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitterUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("[SUBMITTER] poll %s returned %d: %s", txHandle, resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: status %d", ErrSubmitterUnavailable, resp.StatusCode)
	}

	var out struct {
		Status TxStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: bad poll response", ErrSubmitterUnavailable)
	}
	switch out.Status {
	case TxSubmitted, TxConfirmed, TxFailed:
		return out.Status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrSubmitterUnavailable, out.Status)
	}
}
