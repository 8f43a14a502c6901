package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/idx"
)

// Ticket is one renewal in progress. Every caller that asks for a renewal
// while a ticket is in flight receives the same ticket and the same outcome.
type Ticket struct {
	ID        idx.ID
	StartedAt time.Time

	done       chan struct{}
	generation uint64
	token      string
	err        error
}

func settledTicket(id idx.ID, startedAt time.Time, err error) *Ticket {
	t := &Ticket{ID: id, StartedAt: startedAt, done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Done is closed once the ticket has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the ticket settles or ctx ends. Leaving early does not
// affect the renewal itself.
func (t *Ticket) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		return t.token, t.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RenewalStatus describes the single-flight slot.
type RenewalStatus struct {
	InFlight  bool      `json:"inFlight"`
	TicketID  idx.ID    `json:"ticketId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// Renew obtains a new access credential, joining the renewal already in
// flight if there is one. See RenewAsync.
func (s *Store) Renew(ctx context.Context) (string, error) {
	return s.RenewAsync(ctx).Wait(ctx)
}

// RenewAsync returns the in-flight renewal ticket, starting one if none
// exists.
//
// A renewal needs a refresh credential; without one the returned ticket is
// already settled with a NoRefreshCredential failure. On success the new pair
// is stored before the ticket settles, unless Clear was called meanwhile, in
// which case the result is dropped and the ticket fails. On failure the
// credentials are cleared and the ticket settles with a RenewalFailed failure
// wrapping the cause.
// Either way the slot is emptied once the ticket settles.
//
// The renewal runs detached from ctx cancellation, bounded by the store's
// renew timeout. Callers that stop waiting do not affect the cohort.
func (s *Store) RenewAsync(ctx context.Context) *Ticket {
	s.ensureLoaded(ctx)

	s.mu.Lock()
	if s.ticket != nil {
		t := s.ticket
		s.mu.Unlock()
		return t
	}

	refresh := s.pair.RefreshToken
	if refresh == "" {
		s.mu.Unlock()
		now := s.now()
		return settledTicket(idx.NewAt(now), now, &failure.Failure{
			Kind:    failure.NoRefreshCredential,
			Message: "no refresh credential available",
			Cause:   ErrNoRefreshCredential,
		})
	}

	now := s.now()
	t := &Ticket{ID: idx.NewAt(now), StartedAt: now, done: make(chan struct{}), generation: s.generation}
	s.ticket = t
	s.mu.Unlock()

	s.logger.Debug("credential renewal started", "ticket", t.ID)
	go s.renew(context.WithoutCancel(ctx), t, refresh)

	return t
}

// RenewalStatus reports whether a renewal is in flight.
func (s *Store) RenewalStatus() RenewalStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ticket == nil {
		return RenewalStatus{}
	}
	return RenewalStatus{InFlight: true, TicketID: s.ticket.ID, StartedAt: s.ticket.StartedAt}
}

func (s *Store) renew(ctx context.Context, t *Ticket, refresh string) {
	callCtx, cancel := context.WithTimeout(ctx, s.renewTimeout)
	pair, err := s.callRefresher(callCtx, refresh)
	cancel()

	if err != nil {
		f := failure.Wrap(failure.RenewalFailed, "", err)
		s.logger.Warn("credential renewal failed, clearing credentials",
			"ticket", t.ID,
			"error", err,
		)
		s.Clear(ctx)
		s.settle(t, "", f)
		return
	}

	if !s.setPairSince(ctx, pair, t.generation) {
		s.logger.Info("credentials cleared during renewal, discarding result", "ticket", t.ID)
		s.settle(t, "", failure.Wrap(failure.RenewalFailed, "credentials were cleared during renewal", ErrClearedDuringRenewal))
		return
	}

	s.logger.Debug("credential renewal succeeded", "ticket", t.ID, "duration", s.now().Sub(t.StartedAt))
	s.settle(t, pair.AccessToken, nil)
}

func (s *Store) callRefresher(ctx context.Context, refresh string) (pair Pair, err error) {
	if s.refresher == nil {
		return Pair{}, ErrNoRefresher
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.New("credstore: refresher panicked")
		}
	}()

	pair, err = s.refresher.Refresh(ctx, refresh)
	if err != nil {
		return Pair{}, err
	}
	if pair.AccessToken == "" {
		return Pair{}, errors.New("credstore: renewal returned no access credential")
	}

	return pair, nil
}

// settle empties the slot before releasing waiters, so a waiter that
// immediately renews again starts a fresh ticket.
func (s *Store) settle(t *Ticket, token string, err error) {
	s.mu.Lock()
	if s.ticket == t {
		s.ticket = nil
	}
	t.token, t.err = token, err
	s.mu.Unlock()

	close(t.done)
}
