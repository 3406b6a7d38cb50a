package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/wire"
)

const writeTimeout = 10 * time.Second

// SessionMeta is the metadata snapshot a peer supplies at handshake.
// Mutated only by handshake; lastSeen moves on ping.
type SessionMeta struct {
	WorldID        string
	WorldTitle     string
	FoundryVersion string
	SystemID       string
	SystemTitle    string
	SystemVersion  string
	CustomName     string
	Origin         string
}

// PeerSession is one WebSocket connection to one backend peer. It owns
// the socket: all writes go through Send, which serializes frames.
type PeerSession struct {
	ClientID       string
	APIKey         string
	Meta           SessionMeta
	ConnectedSince time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// Send serializes v to JSON and writes a single text frame. Writes are
// serialized per session to preserve order. Returns false on failure,
// after closing the socket with 4000.
func (s *PeerSession) Send(ctx context.Context, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("session marshal", "clientId", s.ClientID, "err", err)
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	err = s.conn.Write(writeCtx, websocket.MessageText, data)
	s.writeMu.Unlock()
	if err != nil {
		logger.Warn("session write failed", "clientId", s.ClientID, "err", err)
		s.Close(wire.CloseInternalError, "write failed")
		return false
	}
	return true
}

// Close closes the socket with a code once; later calls are no-ops.
func (s *PeerSession) Close(code websocket.StatusCode, reason string) {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		s.conn.Close(code, reason)
	}
}

// Touch records peer liveness (ping or pong observed).
func (s *PeerSession) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *PeerSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// handleRelayWS is the /relay WebSocket endpoint: handshake, keep-alive,
// inbound routing, and cleanup.
func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(s.Config.MaxMessageBytes)
	defer conn.CloseNow()

	q := r.URL.Query()
	clientID := q.Get("id")
	if clientID == "" {
		conn.Close(wire.CloseNoClientID, "missing client id")
		return
	}

	apiKey, err := s.authenticateToken(r.Context(), q.Get("token"))
	if err != nil {
		conn.Close(wire.CloseNoAuth, "authentication failed")
		return
	}

	sess := &PeerSession{
		ClientID: clientID,
		APIKey:   apiKey,
		Meta: SessionMeta{
			WorldID:        q.Get("worldId"),
			WorldTitle:     q.Get("worldTitle"),
			FoundryVersion: q.Get("foundryVersion"),
			SystemID:       q.Get("systemId"),
			SystemTitle:    q.Get("systemTitle"),
			SystemVersion:  q.Get("systemVersion"),
			CustomName:     q.Get("customName"),
			Origin:         r.Header.Get("Origin"),
		},
		ConnectedSince: time.Now(),
		conn:           conn,
		lastSeen:       time.Now(),
	}

	// A newer session for the same clientId evicts the old one. The old
	// socket observes 4004 before the replacement appears in the table.
	if old := s.Clients.Evict(clientID); old != nil {
		old.Close(wire.CloseDuplicateConnection, "duplicate connection")
		logger.Info("evicted duplicate session", "clientId", clientID)
	}
	s.Clients.Add(sess)
	s.Metrics.PeersConnected.Inc()

	dirCtx, dirCancel := context.WithTimeout(r.Context(), directoryOpTimeout)
	if err := s.Directory.Put(dirCtx, clientID, apiKey, sess.Meta, sess.ConnectedSince, s.Config.DirectoryTTL); err != nil {
		logger.Warn("directory put", "clientId", clientID, "err", err)
	}
	dirCancel()

	logger.Info("peer connected", "clientId", clientID,
		"world", sess.Meta.WorldTitle, "system", sess.Meta.SystemID)

	defer func() {
		s.Metrics.PeersConnected.Dec()
		// Only the current table entry owns cleanup; an evicted session
		// must not delete its replacement's registration.
		if s.Clients.Remove(sess) {
			ctx, cancel := context.WithTimeout(context.Background(), directoryOpTimeout)
			if err := s.Directory.Delete(ctx, clientID, apiKey); err != nil {
				logger.Warn("directory delete", "clientId", clientID, "err", err)
			}
			cancel()
		}
		logger.Info("peer disconnected", "clientId", clientID)
		// Pending waiters for this client keep running to their deadline;
		// the peer may reconnect on another replica within the TTL.
	}()

	ctx := r.Context()

	// Keep-alive watchdog: no ping or pong for 3× the ping interval means
	// the socket is dead.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		ticker := time.NewTicker(s.Config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if time.Since(sess.LastSeen()) > 3*s.Config.PingInterval {
					logger.Warn("keepalive expired", "clientId", clientID)
					sess.Close(wire.CloseInternalError, "keepalive expired")
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		env, msg, err := wire.Decode(data)
		if err != nil {
			// Malformed frames are logged and dropped; the session stays up.
			logger.Warn("malformed message", "clientId", clientID, "err", err)
			continue
		}

		switch env.Type {
		case wire.TypePing:
			sess.Touch()
			sess.Send(ctx, map[string]string{"type": wire.TypePong})
			refreshCtx, cancel := context.WithTimeout(ctx, directoryOpTimeout)
			if err := s.Directory.Refresh(refreshCtx, clientID, apiKey, s.Config.DirectoryTTL); err != nil {
				logger.Debug("directory refresh", "clientId", clientID, "err", err)
			}
			cancel()

		case wire.TypePong:
			sess.Touch()

		default:
			s.routeInbound(sess, env, msg)
		}
	}
}
