package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

// Broadcaster pushes events to streaming clients. Satisfied by the
// stream hub; nil disables event publishing.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{}) int
}

// outputPreviewLimit caps how much run output a notification carries.
const outputPreviewLimit = 500

// Dispatcher evaluates notification rules against terminal run outcomes
// and delivers to the matching channels. Implements engine.Notifier.
//
// Webhook channels are rate limited individually; a channel over its
// limit drops the notification rather than queueing it.
type Dispatcher struct {
	channels    map[string]Channel
	rules       []Rule
	limiters    map[string]*rate.Limiter
	client      *http.Client
	broadcaster Broadcaster
	native      nativeNotifier
	logger      *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher for the given channels and rules.
func NewDispatcher(channels []Channel, rules []Rule, broadcaster Broadcaster, logger *zap.SugaredLogger) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	limiters := make(map[string]*rate.Limiter, len(channels))
	for _, ch := range channels {
		byName[ch.Name] = ch
		// Webhook providers throttle aggressively; one burst of five
		// then one per second is well inside both Slack and Discord
		limiters[ch.Name] = rate.NewLimiter(rate.Every(time.Second), 5)
	}

	return &Dispatcher{
		channels:    byName,
		rules:       rules,
		limiters:    limiters,
		client:      &http.Client{Timeout: 10 * time.Second},
		broadcaster: broadcaster,
		native:      defaultNativeNotifier,
		logger:      logger.Named("notify"),
	}
}

// JobSucceeded dispatches notifications for a successful run.
func (d *Dispatcher) JobSucceeded(ctx context.Context, job *engine.Job, rec *engine.HistoryRecord) {
	d.dispatch(ctx, EventSuccess, job, rec)
}

// JobFailed dispatches notifications for a terminally failed run.
func (d *Dispatcher) JobFailed(ctx context.Context, job *engine.Job, rec *engine.HistoryRecord) {
	d.dispatch(ctx, EventFailure, job, rec)
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event, job *engine.Job, rec *engine.HistoryRecord) {
	d.publishEvent(event, job, rec)

	seen := make(map[string]bool)
	for _, rule := range d.rules {
		if !rule.matches(event, job.ID, job.Category) {
			continue
		}
		for _, name := range rule.Channels {
			if seen[name] {
				continue
			}
			seen[name] = true

			channel, ok := d.channels[name]
			if !ok {
				d.logger.Warnw("Rule references unknown channel",
					"channel", name, "job_id", job.ID)
				continue
			}
			if !channel.Enabled {
				continue
			}

			if err := d.deliver(ctx, channel, event, job, rec); err != nil {
				d.logger.Warnw("Notification delivery failed",
					"channel", name, "type", channel.Type,
					"job_id", job.ID, "error", err)
			}
		}
	}
}

// publishEvent pushes the run outcome to streaming clients.
func (d *Dispatcher) publishEvent(event Event, job *engine.Job, rec *engine.HistoryRecord) {
	if d.broadcaster == nil {
		return
	}

	eventType := "job:success"
	if event == EventFailure {
		eventType = "job:failed"
	}
	d.broadcaster.Broadcast(eventType, map[string]interface{}{
		"jobId":     job.ID,
		"jobName":   job.Name,
		"historyId": rec.ID,
		"status":    rec.Status,
		"duration":  rec.DurationMs,
		"exitCode":  rec.ExitCode,
	})
}

// deliver sends one notification through one channel.
func (d *Dispatcher) deliver(ctx context.Context, channel Channel, event Event, job *engine.Job, rec *engine.HistoryRecord) error {
	title, body := d.format(event, job, rec)

	switch channel.Type {
	case ChannelSlack:
		if !d.allow(channel.Name) {
			return errors.Newf("channel %s rate limited, notification dropped", channel.Name)
		}
		return d.postWebhook(ctx, channel.WebhookURL, map[string]string{
			"text": title + "\n" + body,
		})
	case ChannelDiscord:
		if !d.allow(channel.Name) {
			return errors.Newf("channel %s rate limited, notification dropped", channel.Name)
		}
		return d.postWebhook(ctx, channel.WebhookURL, map[string]string{
			"content": title + "\n" + body,
		})
	case ChannelNative:
		return d.native(ctx, title, body)
	default:
		return errors.Newf("unknown channel type: %s", channel.Type)
	}
}

// format builds the human-readable notification content.
func (d *Dispatcher) format(event Event, job *engine.Job, rec *engine.HistoryRecord) (title, body string) {
	if event == EventSuccess {
		title = fmt.Sprintf("✅ %s succeeded", job.Name)
	} else {
		title = fmt.Sprintf("❌ %s failed", job.Name)
	}

	body = fmt.Sprintf("duration: %s | run: %s",
		(time.Duration(rec.DurationMs) * time.Millisecond).String(), rec.ID)
	if rec.ExitCode != nil {
		body += fmt.Sprintf(" | exit: %d", *rec.ExitCode)
	}

	preview := rec.Stderr
	if event == EventSuccess || preview == "" {
		preview = rec.Stdout
	}
	if preview != "" {
		if len(preview) > outputPreviewLimit {
			preview = preview[:outputPreviewLimit] + "…"
		}
		body += "\n" + preview
	}
	return title, body
}

// allow consumes one token from the channel's rate limiter.
func (d *Dispatcher) allow(channelName string) bool {
	limiter, ok := d.limiters[channelName]
	if !ok {
		return true
	}
	return limiter.Allow()
}

// postWebhook POSTs a JSON payload to a webhook URL.
func (d *Dispatcher) postWebhook(ctx context.Context, url string, payload interface{}) error {
	if url == "" {
		return errors.New("channel has no webhook URL")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
