package tokens

import (
	"context"
	"log/slog"

	"github.com/go-account-tokens/internal/domain"
)

func (s *service) publish(ctx context.Context, evType string, rec *domain.TokenRecord) {
	if s.events == nil {
		return
	}
	ev := domain.TokenEvent{Type: evType, UserID: rec.UserID, Purpose: rec.Purpose, TokenID: rec.TokenID, At: s.clock.Now()}
	pctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		slog.Warn("failed to publish token event", "type", evType, "user_id", rec.UserID, "token_id", rec.TokenID, "err", err)
	}
}
