package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/italolelis/track_downloader/internal/batch"
)

// maxFailuresListed keeps the message under Discord's content limit.
const maxFailuresListed = 10

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// FormatReport renders a batch report as a chat message.
func FormatReport(title string, r *batch.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s**: %s", title, r.Summary())

	failures := r.Failures()
	for i, f := range failures {
		if i == maxFailuresListed {
			fmt.Fprintf(&b, "\n… and %d more", len(failures)-maxFailuresListed)

			break
		}

		fmt.Fprintf(&b, "\n- %s failed at %s: %v", f.ID, f.Stage, f.Err)
	}

	return b.String()
}
