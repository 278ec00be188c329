package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// FakeGateway is an in-process gateway for local runs and tests. Sessions are
// numbered deterministically and start unpaid.
type FakeGateway struct {
	BaseURL string
	// Err, when set, fails every call.
	Err error

	mu       sync.Mutex
	seq      int
	sessions map[string]*Session
	Requests []SessionRequest
	Expired  []string
}

func NewFakeGateway(baseURL string) *FakeGateway {
	return &FakeGateway{BaseURL: baseURL, sessions: make(map[string]*Session)}
}

func (f *FakeGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, apperr.Gateway(f.Err, "payment gateway create session failed")
	}
	f.seq++
	id := fmt.Sprintf("cs_fake_%d", f.seq)
	s := &Session{
		ID:            id,
		URL:           f.BaseURL + "/checkout/" + id,
		PaymentIntent: fmt.Sprintf("pi_fake_%d", f.seq),
		PaymentStatus: SessionUnpaid,
		Status:        "open",
	}
	f.sessions[id] = s
	f.Requests = append(f.Requests, req)
	cp := *s
	return &cp, nil
}

func (f *FakeGateway) GetSession(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, apperr.Gateway(f.Err, "payment gateway get session failed")
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperr.Gateway(fmt.Errorf("no such session %s", sessionID), "payment gateway get session failed")
	}
	cp := *s
	return &cp, nil
}

func (f *FakeGateway) ExpireSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = "expired"
	}
	f.Expired = append(f.Expired, sessionID)
	return nil
}

// Pay marks a session as captured, as the customer completing checkout would.
func (f *FakeGateway) Pay(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return false
	}
	s.PaymentStatus = SessionPaid
	s.Status = "complete"
	return true
}
