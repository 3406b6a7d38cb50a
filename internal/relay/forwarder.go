package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foundrybridge/relay/internal/logger"
)

// Forwarder ships requests and results between replicas over two pub/sub
// channels per replica: relay/replica/{R}/requests and
// relay/replica/{R}/results.
type Forwarder struct {
	rdb        *redis.Client
	instanceID string
	pending    *PendingTable
	clients    *ClientRegistry
	metrics    *Metrics
	timeoutFor func(requestType string) time.Duration
}

// ForwardedRequest is the wire form of a request shipped to the replica
// owning the target client.
type ForwardedRequest struct {
	RequestID string         `json:"requestId"`
	Origin    string         `json:"origin"`
	Type      string         `json:"type"`
	ClientID  string         `json:"clientId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Hints     ShapeHints     `json:"hints,omitempty"`
}

// ForwardedResult carries a peer's answer (or a relay-level failure) back
// to the origin replica, keyed by the origin's requestId.
type ForwardedResult struct {
	RequestID string         `json:"requestId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

const (
	forwardErrNotFound    = "not_found"
	forwardErrUnavailable = "upstream_unavailable"
)

func requestChannel(replica string) string { return "relay/replica/" + replica + "/requests" }
func resultChannel(replica string) string  { return "relay/replica/" + replica + "/results" }

// PublishRequest ships a forwarded request to the target replica.
func (f *Forwarder) PublishRequest(ctx context.Context, target string, req ForwardedRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, requestChannel(target), data).Err(); err != nil {
		return err
	}
	f.metrics.ForwardedTotal.WithLabelValues("request").Inc()
	return nil
}

// PublishResult ships a result back to the origin replica.
func (f *Forwarder) PublishResult(ctx context.Context, origin string, res ForwardedResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, resultChannel(origin), data).Err(); err != nil {
		return err
	}
	f.metrics.ForwardedTotal.WithLabelValues("result").Inc()
	return nil
}

// Start subscribes to this replica's request and result channels. The
// subscribers run until ctx is cancelled; both are idempotent under
// duplicate delivery because resolution goes through the pending table's
// atomic take.
func (f *Forwarder) Start(ctx context.Context) {
	go f.consume(ctx, requestChannel(f.instanceID), f.handleRequest)
	go f.consume(ctx, resultChannel(f.instanceID), f.handleResult)
}

func (f *Forwarder) consume(ctx context.Context, channel string, handle func(context.Context, []byte)) {
	sub := f.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Each message gets its own goroutine: a slow peer write must
			// not block delivery to every other peer on this replica.
			go handle(ctx, []byte(msg.Payload))
		}
	}
}

// handleRequest serves a request forwarded from another replica: deliver
// it to the local peer under a remapped requestId, and publish the answer
// back to the origin under the original one.
func (f *Forwarder) handleRequest(ctx context.Context, data []byte) {
	var req ForwardedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warn("forwarder: bad request envelope", "err", err)
		return
	}

	sess := f.clients.Get(req.ClientID)
	if sess == nil {
		// The peer vanished between the directory lookup and delivery.
		f.replyError(ctx, req, forwardErrNotFound)
		return
	}

	// Remapped id avoids correlation collisions across replicas.
	localID := NewRequestID(req.Type)
	origin := req.Origin
	originID := req.RequestID
	w := &Waiter{
		RequestID:      localID,
		Type:           req.Type,
		OriginReplica:  origin,
		TargetClientID: req.ClientID,
		CreatedAt:      time.Now(),
		Deadline:       time.Now().Add(f.timeoutFor(req.Type)),
		Hints:          req.Hints,
		deliver: func(out Outcome) {
			res := ForwardedResult{RequestID: originID}
			switch {
			case out.Err != nil:
				res.Error = forwardErrUnavailable
			default:
				res.Payload = out.Payload
			}
			pubCtx, cancel := context.WithTimeout(context.Background(), directoryOpTimeout)
			defer cancel()
			if err := f.PublishResult(pubCtx, origin, res); err != nil {
				logger.Warn("forwarder: publish result", "requestId", originID, "err", err)
			}
		},
	}
	if err := f.pending.Register(w); err != nil {
		logger.Error("forwarder: register waiter", "requestId", localID, "err", err)
		return
	}

	msg := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		msg[k] = v
	}
	msg["type"] = req.Type
	msg["requestId"] = localID
	if !sess.Send(ctx, msg) {
		if f.pending.Take(localID) != nil {
			f.replyError(ctx, req, forwardErrUnavailable)
		}
	}
}

func (f *Forwarder) replyError(ctx context.Context, req ForwardedRequest, kind string) {
	err := f.PublishResult(ctx, req.Origin, ForwardedResult{
		RequestID: req.RequestID,
		Error:     kind,
	})
	if err != nil {
		logger.Warn("forwarder: publish error result", "requestId", req.RequestID, "err", err)
	}
}

// handleResult completes a locally-registered waiter with a result that
// came back from another replica. Late or duplicate results miss the
// atomic take and are dropped.
func (f *Forwarder) handleResult(ctx context.Context, data []byte) {
	var res ForwardedResult
	if err := json.Unmarshal(data, &res); err != nil {
		logger.Warn("forwarder: bad result envelope", "err", err)
		return
	}
	w := f.pending.Take(res.RequestID)
	if w == nil {
		logger.Debug("forwarder: no waiter for result", "requestId", res.RequestID)
		return
	}
	switch res.Error {
	case "":
		w.Deliver(Outcome{Payload: res.Payload})
	case forwardErrNotFound:
		w.Deliver(Outcome{Err: ErrNotFound})
	default:
		w.Deliver(Outcome{Err: ErrUpstreamUnavailable})
	}
}
