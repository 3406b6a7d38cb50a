package relay

import (
	"context"
	"time"

	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/wire"
)

const (
	pendingSweepInterval = 10 * time.Second
	idleSweepInterval    = 60 * time.Second
)

// StartReaper runs the periodic sweeps: expired waiters, idle sessions,
// and directory lease renewal for locally owned clients.
func (s *Server) StartReaper(ctx context.Context) {
	go s.sweepPending(ctx)
	go s.sweepIdle(ctx)
	go s.renewDirectory(ctx)
}

func (s *Server) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapPending(time.Now())
		}
	}
}

// reapPending fails every waiter past its deadline with a timeout.
func (s *Server) reapPending(now time.Time) {
	for _, w := range s.Pending.Expire(now) {
		logger.Info("waiter expired", "requestId", w.RequestID,
			"type", w.Type, "clientId", w.TargetClientID)
		w.Deliver(Outcome{Err: ErrTimeout})
	}
}

// sweepIdle closes sessions that have gone silent well past the
// keep-alive horizon. The per-session watchdog usually wins; this is the
// backstop for sessions whose watchdog goroutine is gone.
func (s *Server) sweepIdle(ctx context.Context) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.Clients.All() {
				if time.Since(sess.LastSeen()) > s.Config.IdleTimeout {
					logger.Warn("closing idle session", "clientId", sess.ClientID)
					sess.Close(wire.CloseNormal, "idle timeout")
				}
			}
		}
	}
}

// renewDirectory refreshes the lease on every locally owned directory
// record at half the TTL.
func (s *Server) renewDirectory(ctx context.Context) {
	ticker := time.NewTicker(s.Config.DirectoryTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.Clients.All() {
				opCtx, cancel := context.WithTimeout(ctx, directoryOpTimeout)
				if err := s.Directory.Refresh(opCtx, sess.ClientID, sess.APIKey, s.Config.DirectoryTTL); err != nil {
					logger.Debug("directory renew", "clientId", sess.ClientID, "err", err)
				}
				cancel()
			}
		}
	}
}
