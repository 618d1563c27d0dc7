// Package syncclient is the thin HTTP transport the sync engine drives:
// POSTing a batch of transactions to the sync endpoint under a per-call
// timeout. Health probing is the network detector's concern, not this
// package's.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftsync/syncore/internal/model"
)

// TransactionView is the wire shape of one transaction in a BatchRequest.
// It is either a DeltaView (delta sync enabled) or a FullTransaction (delta
// sync disabled); BatchRequest.UnmarshalJSON picks the concrete type back
// apart on decode by probing for the "status" field, which only
// FullTransaction carries.
type TransactionView interface {
	TransactionID() string
}

// DeltaView is the reduced on-wire projection of a transaction sent when
// delta sync is enabled. Version/ContentHash are included for any
// transaction; Attempts/MaxAttempts are only populated on a retry
// (Attempts > 1).
type DeltaView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version,omitempty"`
	ContentHash string    `json:"contentHash,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	MaxAttempts int       `json:"maxAttempts,omitempty"`
}

// TransactionID implements TransactionView.
func (d DeltaView) TransactionID() string { return d.ID }

// FullTransaction is the complete on-wire projection of a transaction sent
// when delta sync is disabled, carrying everything a server would need to
// process or audit the sync independent of what it already has cached.
type FullTransaction struct {
	ID       string          `json:"id"`
	Payload  any             `json:"payload"`
	Status   model.Status    `json:"status"`
	Type     string          `json:"type"`
	Priority model.Priority  `json:"priority"`

	CreatedAt       time.Time  `json:"createdAt"`
	SyncStartedAt   *time.Time `json:"syncStartedAt,omitempty"`
	SyncCompletedAt *time.Time `json:"syncCompletedAt,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	LastError           string `json:"lastError,omitempty"`
	ServerTransactionID string `json:"serverTransactionId,omitempty"`

	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`

	RelatedTransactionIDs []string `json:"relatedTransactionIds,omitempty"`

	Metadata model.Metadata `json:"metadata"`
}

// TransactionID implements TransactionView.
func (f FullTransaction) TransactionID() string { return f.ID }

// BatchRequest is the request body for a sync POST.
type BatchRequest struct {
	BatchID      string             `json:"batchId"`
	Transactions []TransactionView  `json:"transactions"`
}

// UnmarshalJSON decodes each transaction into a DeltaView or a
// FullTransaction depending on whether the raw object carries a "status"
// field — present only on FullTransaction, since model.Status is never
// empty on a real transaction.
func (r *BatchRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		BatchID      string            `json:"batchId"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.BatchID = wire.BatchID
	r.Transactions = make([]TransactionView, 0, len(wire.Transactions))
	for _, raw := range wire.Transactions {
		var probe struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return err
		}
		if probe.Status != "" {
			var full FullTransaction
			if err := json.Unmarshal(raw, &full); err != nil {
				return err
			}
			r.Transactions = append(r.Transactions, full)
			continue
		}
		var delta DeltaView
		if err := json.Unmarshal(raw, &delta); err != nil {
			return err
		}
		r.Transactions = append(r.Transactions, delta)
	}
	return nil
}

// SyncedOutcome records a transaction the server accepted.
type SyncedOutcome struct {
	TransactionID       string `json:"transactionId"`
	ServerTransactionID string `json:"serverTransactionId"`
}

// FailedOutcome records a transaction the server rejected.
type FailedOutcome struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error"`
}

// ConflictOutcome records a transaction the server flagged as conflicting.
type ConflictOutcome struct {
	TransactionID  string `json:"transactionId"`
	CurrentVersion int    `json:"currentVersion"`
	ConflictData   any    `json:"conflictData,omitempty"`
}

// BatchResponse is the parsed response body from a sync POST.
type BatchResponse struct {
	Synced    []SyncedOutcome   `json:"synced"`
	Failed    []FailedOutcome   `json:"failed"`
	Conflicts []ConflictOutcome `json:"conflicts"`
}

// Kind classifies a transport-level failure from PostBatch.
type Kind string

const (
	KindNetworkError Kind = "network_error"
	KindServerError  Kind = "server_error"
	KindTimeoutError Kind = "timeout_error"
)

// TransportError is returned by PostBatch on any non-2xx response,
// transport failure, or timeout.
type TransportError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("syncclient: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("syncclient: %s: status %d", e.Kind, e.StatusCode)
}

func (e TransportError) Unwrap() error { return e.Err }

// Client posts batches over plain net/http, bounded by a per-call timeout
// rather than a single shared client-wide deadline.
type Client struct {
	httpClient   *http.Client
	syncEndpoint string
}

func New(syncEndpoint string) *Client {
	return &Client{
		httpClient:   &http.Client{},
		syncEndpoint: syncEndpoint,
	}
}

// PostBatch sends a batch to the sync endpoint under the given timeout.
func (c *Client) PostBatch(ctx context.Context, req BatchRequest, timeout time.Duration) (BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return BatchResponse{}, TransportError{Kind: KindNetworkError, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.syncEndpoint, bytes.NewReader(body))
	if err != nil {
		return BatchResponse{}, TransportError{Kind: KindNetworkError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		if reqCtx.Err() != nil {
			return BatchResponse{}, TransportError{Kind: KindTimeoutError, Err: err}
		}
		return BatchResponse{}, TransportError{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	log.Debug().
		Str("batchId", req.BatchID).
		Int("transactions", len(req.Transactions)).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("syncclient: batch posted")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BatchResponse{}, TransportError{Kind: KindServerError, StatusCode: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return BatchResponse{}, TransportError{Kind: KindNetworkError, Err: err}
	}

	var batchResp BatchResponse
	if err := json.Unmarshal(bodyBytes, &batchResp); err != nil {
		return BatchResponse{}, TransportError{Kind: KindServerError, Err: err}
	}
	return batchResp, nil
}
