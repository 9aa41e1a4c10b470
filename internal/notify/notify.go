// Package notify holds the external collaborators of the promotion engine:
// the notifier that delivers promotion notices and the resolver that checks
// a group context still exists.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrContextNotFound is returned by a Resolver when the group no longer exists.
var ErrContextNotFound = errors.New("context not found")

// DeliveryError wraps a transport or permission failure from the notifier.
// It marks the attempt as failed; it is not retried automatically.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SendRequest describes one promotion notice.
type SendRequest struct {
	GroupID      string `json:"groupId"`
	CandidateID  string `json:"candidateId"`
	FromRank     int    `json:"fromRank"`
	ToRank       int    `json:"toRank"`
	ReferenceURL string `json:"referenceUrl"`
}

// Notifier delivers a promotion notice and returns an opaque delivery id.
type Notifier interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

// GroupContext is the resolved handle for a group.
type GroupContext struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolver checks that a group context still exists.
type Resolver interface {
	Resolve(ctx context.Context, groupID string) (GroupContext, error)
}

// MemoryNotifier records sends in memory and hands out generated delivery ids.
// Used by tests and local runs without a chat platform attached.
type MemoryNotifier struct {
	mu    sync.Mutex
	sends []SendRequest
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Send(ctx context.Context, req SendRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, req)
	return uuid.New().String(), nil
}

// Sends returns a copy of everything delivered so far.
func (n *MemoryNotifier) Sends() []SendRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SendRequest, len(n.sends))
	copy(out, n.sends)
	return out
}

// StaticResolver resolves every group id. Used when no resolver backend is
// configured; deferred records then never fail on context checks.
type StaticResolver struct{}

func (StaticResolver) Resolve(ctx context.Context, groupID string) (GroupContext, error) {
	return GroupContext{ID: groupID}, nil
}
