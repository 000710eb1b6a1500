package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"octopus/internal/core"
)

// SnapshotEvent announces that a domain settled a reload.
type SnapshotEvent struct {
	EventID    string          `json:"event_id"`
	Domain     core.Domain     `json:"domain"`
	Status     string          `json:"status"`
	Generation uint64          `json:"generation"`
	Counts     map[string]int  `json:"counts,omitempty"`
	Aggregates json.RawMessage `json:"aggregates,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewSnapshotEvent creates an event with a fresh id and timestamp.
func NewSnapshotEvent(domain core.Domain, status string, generation uint64) *SnapshotEvent {
	return &SnapshotEvent{
		EventID:    uuid.NewString(),
		Domain:     domain,
		Status:     status,
		Generation: generation,
		Timestamp:  time.Now().UTC(),
	}
}

// RoutingKey is the key snapshot events are published with.
func (e *SnapshotEvent) RoutingKey() string {
	return "snapshot." + string(e.Domain)
}

// ReloadRequest asks the worker to reload one domain, or every domain when
// Domain is empty.
type ReloadRequest struct {
	Domain      string    `json:"domain,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewReloadRequest creates a reload request for domain ("" for all).
func NewReloadRequest(domain core.Domain, requestedBy string) *ReloadRequest {
	return &ReloadRequest{
		Domain:      string(domain),
		RequestedBy: requestedBy,
		Timestamp:   time.Now().UTC(),
	}
}

// Domains resolves the requested domains.
func (r *ReloadRequest) Domains() ([]core.Domain, error) {
	if r.Domain == "" {
		return core.Domains(), nil
	}
	d, err := core.ParseDomain(r.Domain)
	if err != nil {
		return nil, err
	}
	return []core.Domain{d}, nil
}

// ToJSON converts the request to JSON bytes
func (r *ReloadRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ReloadRequestFromJSON decodes and validates a reload request.
func ReloadRequestFromJSON(data []byte) (*ReloadRequest, error) {
	var req ReloadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if _, err := req.Domains(); err != nil {
		return nil, fmt.Errorf("invalid reload request: %w", err)
	}
	return &req, nil
}
