package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	apphttp "copytrader/pkg/http"
)

var slackColors = map[AlertLevel]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color   string       `json:"color"`
	Pretext string       `json:"pretext"`
	Text    string       `json:"text"`
	Fields  []slackField `json:"fields,omitempty"`
	Ts      int64        `json:"ts"`
	Footer  string       `json:"footer"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts alerts to an incoming webhook
type SlackChannel struct {
	client *apphttp.Client
}

// NewSlackChannel posts to an incoming webhook. An empty URL disables the
// channel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	if webhookURL == "" {
		return &SlackChannel{}
	}
	return &SlackChannel{
		client: apphttp.NewClient(webhookURL, 5*time.Second, nil, apphttp.WithRetries(1)),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.client == nil {
		return nil
	}
	if _, err := s.client.Post(ctx, "", newSlackMessage(alert)); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func newSlackMessage(alert AlertPayload) slackMessage {
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]slackField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, slackField{Title: k, Value: alert.Fields[k], Short: true})
	}

	color, ok := slackColors[alert.Level]
	if !ok {
		color = slackColors[Info]
	}
	return slackMessage{Attachments: []slackAttachment{{
		Color:   color,
		Pretext: fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
		Text:    alert.Message,
		Fields:  fields,
		Ts:      alert.Timestamp.Unix(),
		Footer:  "copytrader",
	}}}
}
