package smtp

import (
	"context"
	"log/slog"

	"github.com/go-account-tokens/internal/domain"
)

// DevNotifier logs links instead of sending them. Local development only:
// the log line contains a live verifier.
type DevNotifier struct {
	logger *slog.Logger
}

func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

func (n *DevNotifier) SendLink(ctx context.Context, toEmail string, purpose domain.Purpose, link string) error {
	n.logger.InfoContext(ctx, "token link issued",
		"email", toEmail,
		"purpose", purpose,
		"link", link,
	)
	return nil
}
