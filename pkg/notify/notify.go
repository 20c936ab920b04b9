// Package notify delivers ops notifications for dispatch outcomes to Slack.
// Fail-open and nil-safe: a missing token disables the service entirely and
// delivery errors are logged, never returned to the request path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/myndlens/vox/pkg/dispatch"
)

const postTimeout = 5 * time.Second

var statusEmoji = map[dispatch.Status]string{
	dispatch.StatusSubmitted: ":arrows_counterclockwise:",
	dispatch.StatusCompleted: ":white_check_mark:",
	dispatch.StatusFailed:    ":x:",
	dispatch.StatusRejected:  ":no_entry_sign:",
	dispatch.StatusTimedOut:  ":hourglass:",
}

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service posts dispatch notifications. Nil-safe: all methods are no-ops
// when the service is nil.
type Service struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewService creates the notification service. Returns nil when Token or
// Channel is empty, which disables notifications.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:     goslack.New(cfg.Token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NewServiceWithAPIURL targets a custom API URL; used with a mock server.
func NewServiceWithAPIURL(token, channel, apiURL string) *Service {
	return &Service{
		api:     goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channel: channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NotifyDispatch posts one dispatch outcome. Intent is already redacted
// upstream; only the summary line is included.
func (s *Service) NotifyDispatch(ctx context.Context, rec *dispatch.Record, intent string) {
	if s == nil || rec == nil {
		return
	}

	emoji := statusEmoji[rec.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	text := fmt.Sprintf("%s *Dispatch %s* — `%s`\nintent: %s\nlatency: %d ms",
		emoji, rec.Status, rec.DispatchID, intent, rec.LatencyMs)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	if _, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...)); err != nil {
		s.logger.Error("Failed to send dispatch notification",
			"dispatch_id", rec.DispatchID, "status", rec.Status, "error", err)
	}
}
