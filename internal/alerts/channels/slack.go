package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/akmatori/contractmon/internal/models"
	ctslack "github.com/akmatori/contractmon/internal/slack"
)

// SlackAPI is the subset of *slack.Client used by the Slack channel
type SlackAPI interface {
	ctslack.ConversationLister
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts alerts to one Slack channel. Posts are throttled to Slack's
// per-channel rate; waiting for a token counts against the dispatch timeout.
type Slack struct {
	Base
	api      SlackAPI
	channel  string
	resolver *ctslack.ChannelResolver
	limiter  *rate.Limiter
}

// NewSlack creates a Slack channel posting to a channel name or ID
func NewSlack(api SlackAPI, channel string) *Slack {
	s := &Slack{
		api:     api,
		channel: channel,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	if api != nil {
		s.resolver = ctslack.NewChannelResolver(api)
	}
	return s
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) ValidateConfig() error {
	if s.api == nil {
		return fmt.Errorf("slack bot token is not configured")
	}
	if s.channel == "" {
		return fmt.Errorf("slack channel is not configured")
	}
	return nil
}

func (s *Slack) SendAlert(ctx context.Context, event models.ContractViolationEvent) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack throttle: %w", err)
	}

	channelID, err := s.resolver.ResolveChannel(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("failed to resolve channel '%s': %w", s.channel, err)
	}

	if _, _, err := s.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(FormatText(event), false),
		slack.MsgOptionAttachments(slackAttachment(event)),
	); err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

func slackAttachment(event models.ContractViolationEvent) slack.Attachment {
	fields := []slack.AttachmentField{
		{Title: "Contract", Value: event.ContractName, Short: true},
		{Title: "Type", Value: string(event.ViolationType), Short: true},
	}
	if event.Element != "" {
		fields = append(fields, slack.AttachmentField{Title: "Element", Value: event.Element, Short: true})
	}
	if event.ActualValue != "" {
		fields = append(fields, slack.AttachmentField{Title: "Actual", Value: event.ActualValue, Short: true})
	}
	return slack.Attachment{
		Color:  severityColor(event.Severity),
		Fields: fields,
		Footer: event.ID,
		Ts:     json.Number(strconv.FormatInt(event.Timestamp.Unix(), 10)),
	}
}

func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "#b00020"
	case models.SeverityError:
		return "danger"
	case models.SeverityWarning:
		return "warning"
	default:
		return "#9e9e9e"
	}
}
