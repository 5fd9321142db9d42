// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package approval holds human-in-the-loop decisions: requests raised by the
// engine or the mode controller, resolved by an operator over the HTTP API,
// and expired automatically when nobody answers in time.
package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind classifies what an approval unblocks.
type Kind string

const (
	// KindCapability gates one capability use by one task step.
	KindCapability Kind = "capability"

	// KindModeTransition gates a mode transition.
	KindModeTransition Kind = "mode_transition"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusExpired Status = "expired"
)

// Request is one approval request, visible over the API.
type Request struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"` // capability name or target mode
	Reason    string    `json:"reason"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	DecidedBy string    `json:"decided_by,omitempty"`
}

// Decision is the outcome delivered to the waiter.
type Decision struct {
	Granted   bool
	DecidedBy string
}

// resolvedRetention is how long decided and expired requests stay readable
// through Get before eviction. Keeps the request map bounded on a
// long-running process while the API can still answer for recent IDs.
const resolvedRetention = 5 * time.Minute

var approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_approvals_total",
	Help: "Approval requests by kind and final status.",
}, []string{"kind", "status"})

type pending struct {
	req   Request
	done  chan Decision // closed without send on expiry
	timer *time.Timer
}

// Broker tracks pending approval requests.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Broker struct {
	mu        sync.Mutex
	requests  map[string]*pending
	retention time.Duration
	logger    *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		requests:  make(map[string]*pending),
		retention: resolvedRetention,
		logger:    logger,
	}
}

// Submit registers a request and starts its expiry clock.
//
// Inputs:
//
//	kind - What the approval unblocks.
//	subject - Capability name or target mode.
//	reason - Operator-facing context.
//	ttl - How long the request stays answerable.
//
// Outputs:
//
//	Request - The registered request with its generated ID.
func (b *Broker) Submit(kind Kind, subject, reason string, ttl time.Duration) Request {
	now := time.Now().UTC()
	req := Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	p := &pending{
		req:  req,
		done: make(chan Decision, 1),
	}
	p.timer = time.AfterFunc(ttl, func() { b.expire(req.ID) })

	b.mu.Lock()
	b.requests[req.ID] = p
	b.mu.Unlock()

	b.logger.Info("approval requested",
		"approval_id", req.ID,
		"kind", kind,
		"subject", subject,
		"expires_at", req.ExpiresAt,
	)
	return req
}

// Resolve records an operator decision on a pending request.
func (b *Broker) Resolve(id string, granted bool, decidedBy string) error {
	b.mu.Lock()
	p, ok := b.requests[id]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if p.req.Status != StatusPending {
		b.mu.Unlock()
		return ErrAlreadyResolved
	}

	p.timer.Stop()
	if granted {
		p.req.Status = StatusGranted
	} else {
		p.req.Status = StatusDenied
	}
	p.req.DecidedBy = decidedBy
	p.done <- Decision{Granted: granted, DecidedBy: decidedBy}
	close(p.done)
	b.mu.Unlock()
	b.scheduleEviction(id)

	approvalsTotal.WithLabelValues(string(p.req.Kind), string(p.req.Status)).Inc()
	b.logger.Info("approval resolved",
		"approval_id", id,
		"granted", granted,
		"decided_by", decidedBy,
	)
	return nil
}

// Await blocks until the request is decided, expires, or the context ends.
//
// Outputs:
//
//	Decision - The operator decision when granted or denied.
//	error - ErrExpired on timeout, ErrNotFound for unknown IDs, or the
//	        context error.
func (b *Broker) Await(ctx context.Context, id string) (Decision, error) {
	b.mu.Lock()
	p, ok := b.requests[id]
	b.mu.Unlock()
	if !ok {
		return Decision{}, ErrNotFound
	}

	select {
	case d, delivered := <-p.done:
		if !delivered {
			return Decision{}, ErrExpired
		}
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Get returns the request by ID.
func (b *Broker) Get(id string) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return p.req, nil
}

// Pending lists undecided requests, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.requests))
	for _, p := range b.requests {
		if p.req.Status == StatusPending {
			out = append(out, p.req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	p, ok := b.requests[id]
	if !ok || p.req.Status != StatusPending {
		b.mu.Unlock()
		return
	}
	p.req.Status = StatusExpired
	close(p.done)
	b.mu.Unlock()
	b.scheduleEviction(id)

	approvalsTotal.WithLabelValues(string(p.req.Kind), string(StatusExpired)).Inc()
	b.logger.Warn("approval expired unanswered", "approval_id", id, "subject", p.req.Subject)
}

// scheduleEviction removes a terminal request after the retention window, so
// Get keeps answering for recently decided IDs while the map stays bounded.
func (b *Broker) scheduleEviction(id string) {
	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if p, ok := b.requests[id]; ok && p.req.Status != StatusPending {
			delete(b.requests, id)
		}
	})
}
