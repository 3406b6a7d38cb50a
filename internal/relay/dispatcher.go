package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/foundrybridge/relay/internal/logger"
)

// RelayRequest is an outbound request for a specific client. The payload
// is opaque; the relay only adds type and requestId on the wire.
type RelayRequest struct {
	Type     string
	APIKey   string
	ClientID string
	Payload  map[string]any
	Hints    ShapeHints
}

// Dispatch routes a request to the peer hosting the target client —
// directly when it is local, via the forwarder when another replica owns
// it — and blocks until the peer answers, the deadline fires, or ctx is
// cancelled.
func (s *Server) Dispatch(ctx context.Context, req RelayRequest) (map[string]any, error) {
	started := time.Now()
	payload, err := s.dispatch(ctx, req)
	s.Metrics.RequestsTotal.WithLabelValues(req.Type, outcomeFor(err)).Inc()
	if s.Store != nil {
		go s.Store.AppendRequestLog(req.Type, req.ClientID, req.APIKey, outcomeFor(err), time.Since(started))
	}
	return payload, err
}

func (s *Server) dispatch(ctx context.Context, req RelayRequest) (map[string]any, error) {
	if err := s.Auth.Authorize(ctx, req.APIKey, req.ClientID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthDenied, err)
	}

	deadline := s.Config.TimeoutFor(req.Type)

	if sess := s.Clients.Get(req.ClientID); sess != nil {
		// A key may only talk to its own clients.
		if sess.APIKey != req.APIKey {
			return nil, fmt.Errorf("%w: key does not own client", ErrAuthDenied)
		}
		return s.dispatchLocal(ctx, sess, req, deadline)
	}

	instance, found := s.Directory.Instance(ctx, req.ClientID)
	if !found || instance == s.InstanceID {
		// A record pointing at ourselves without a local session is stale.
		return nil, fmt.Errorf("%w: unknown client %s", ErrNotFound, req.ClientID)
	}
	if s.Forwarder == nil {
		return nil, fmt.Errorf("%w: unknown client %s", ErrNotFound, req.ClientID)
	}
	// Ownership holds across replicas too: the directory's api-key set is
	// the source of truth for clients this replica cannot see. Remote
	// replicas trust forwarded traffic, so the check happens here.
	if !s.Directory.KeyOwns(ctx, req.APIKey, req.ClientID) {
		return nil, fmt.Errorf("%w: key does not own client", ErrAuthDenied)
	}
	return s.dispatchRemote(ctx, instance, req, deadline)
}

func (s *Server) dispatchLocal(ctx context.Context, sess *PeerSession, req RelayRequest, deadline time.Duration) (map[string]any, error) {
	w := s.newWaiter(req, deadline)
	if err := s.Pending.Register(w); err != nil {
		return nil, err
	}

	msg := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		msg[k] = v
	}
	msg["type"] = req.Type
	msg["requestId"] = w.RequestID

	if !sess.Send(ctx, msg) {
		s.Pending.Take(w.RequestID)
		return nil, fmt.Errorf("%w: send to %s failed", ErrUpstreamUnavailable, req.ClientID)
	}
	return s.await(ctx, w, deadline)
}

func (s *Server) dispatchRemote(ctx context.Context, instance string, req RelayRequest, deadline time.Duration) (map[string]any, error) {
	w := s.newWaiter(req, deadline)
	if err := s.Pending.Register(w); err != nil {
		return nil, err
	}

	fwd := ForwardedRequest{
		RequestID: w.RequestID,
		Origin:    s.InstanceID,
		Type:      req.Type,
		ClientID:  req.ClientID,
		Payload:   req.Payload,
		Hints:     req.Hints,
	}
	if err := s.Forwarder.PublishRequest(ctx, instance, fwd); err != nil {
		s.Pending.Take(w.RequestID)
		logger.Warn("forward publish failed", "clientId", req.ClientID, "replica", instance, "err", err)
		return nil, fmt.Errorf("%w: broker publish failed", ErrUpstreamUnavailable)
	}
	logger.Debug("request forwarded", "requestId", w.RequestID, "replica", instance)
	return s.await(ctx, w, deadline)
}

func (s *Server) newWaiter(req RelayRequest, deadline time.Duration) *Waiter {
	now := time.Now()
	return &Waiter{
		RequestID:      NewRequestID(req.Type),
		Type:           req.Type,
		OriginReplica:  s.InstanceID,
		TargetClientID: req.ClientID,
		CreatedAt:      now,
		Deadline:       now.Add(deadline),
		Hints:          req.Hints,
		Result:         make(chan Outcome, 1),
	}
}

// await blocks on the waiter until resolution, deadline, or caller
// cancellation. Whichever path loses the race finds the table entry gone.
func (s *Server) await(ctx context.Context, w *Waiter, deadline time.Duration) (map[string]any, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-w.Result:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Payload, nil
	case <-timer.C:
		if s.Pending.Take(w.RequestID) == nil {
			// Resolved between timer fire and take; the result is in flight.
			select {
			case out := <-w.Result:
				if out.Err != nil {
					return nil, out.Err
				}
				return out.Payload, nil
			default:
			}
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, deadline)
	case <-ctx.Done():
		// HTTP caller went away: cancel the waiter. A later peer response
		// for this requestId is dropped by the atomic take.
		s.Pending.Take(w.RequestID)
		return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
	}
}
