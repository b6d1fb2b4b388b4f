package session

import (
	"context"
	"fmt"
	"time"
)

// connect dials with bounded attempts and exponential backoff. Each failed
// attempt doubles the delay up to the configured cap. The first attempt is
// made immediately.
func (s *Session) connect(ctx context.Context) (Conn, error) {
	backoff := s.cfg.ReconnectBackoff
	var lastErr error

	for attempt := 0; attempt < s.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s.metrics.ReconnectAttempts.Inc()
		conn, err := s.dial(ctx)
		if err == nil {
			if attempt > 0 {
				s.log.Info().Int("attempt", attempt+1).Msg("transport reconnected")
			}
			return conn, nil
		}
		lastErr = err

		if attempt < s.cfg.ReconnectMaxAttempts-1 {
			s.log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxAttempts", s.cfg.ReconnectMaxAttempts).
				Dur("backoff", backoff).
				Msg("transport connect failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > s.cfg.ReconnectMaxBackoff {
					backoff = s.cfg.ReconnectMaxBackoff
				}
			}
		}
	}

	return nil, fmt.Errorf("connect failed after %d attempts: %w", s.cfg.ReconnectMaxAttempts, lastErr)
}
