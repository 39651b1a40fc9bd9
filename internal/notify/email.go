package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/obs"
)

// EmailNotifier sends transactional emails for selected topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	TopicToggles map[string]bool
	// Mode labels dispatch metrics; "inline" when empty.
	Mode string
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil || !topicEnabled(n.TopicToggles, event.Topic) {
		return nil
	}
	msg, ok, err := Render(event)
	if err != nil {
		obs.IncEmailDispatch(n.mode(), "invalid")
		return fmt.Errorf("email notify: %w", err)
	}
	if !ok {
		obs.IncEmailDispatch(n.mode(), "skipped")
		return nil
	}
	if err := n.Mail.Send(msg.To, msg.Subject, msg.HTML); err != nil {
		obs.IncEmailDispatch(n.mode(), "error")
		return fmt.Errorf("email notify: send: %w", err)
	}
	obs.IncEmailDispatch(n.mode(), "sent")
	return nil
}

func (n EmailNotifier) mode() string {
	if n.Mode == "" {
		return "inline"
	}
	return n.Mode
}

// Render builds the email for event. ok is false when the event has no recipient.
func Render(event events.Event) (common.Email, bool, error) {
	if event.Topic == events.TopicQuoteSubmitted {
		var payload events.QuoteSubmitted
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return common.Email{}, false, fmt.Errorf("decode payload: %w", err)
		}
		to := strings.TrimSpace(payload.Email)
		if to == "" {
			return common.Email{}, false, nil
		}
		return common.Email{To: to, Subject: "Your dental treatment quote", HTML: quoteBody(payload)}, true, nil
	}

	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return common.Email{}, false, fmt.Errorf("decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return common.Email{}, false, nil
	}
	return common.Email{To: to, Subject: subjectFor(event.Topic), HTML: bodyFor(event.Topic, payload, event.OccurredAt)}, true, nil
}

func topicEnabled(toggles map[string]bool, topic string) bool {
	if toggles == nil {
		return true
	}
	enabled, ok := toggles[topic]
	return !ok || enabled
}

func extractRecipient(payload map[string]any) string {
	for _, key := range []string{"email", "recipient", "patientEmail"} {
		if s, ok := payload[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicPaymentSucceeded:
		return "Payment received for your treatment plan"
	case events.TopicPaymentFailed:
		return "Your payment did not go through"
	case events.TopicPaymentExpired:
		return "Your payment link has expired"
	case events.TopicPaymentRefunded:
		return "Your payment has been refunded"
	default:
		return fmt.Sprintf("Update: %s", topic)
	}
}

func bodyFor(topic string, payload map[string]any, occurred time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s on %s.</p>", html.EscapeString(subjectFor(topic)), occurred.UTC().Format("2 Jan 2006 15:04 MST"))
	if id, ok := payload["submissionId"].(string); ok && id != "" {
		fmt.Fprintf(&b, "<p>Reference: %s</p>", html.EscapeString(id))
	}
	if amount, ok := payload["amount"].(float64); ok {
		currency, _ := payload["currency"].(string)
		fmt.Fprintf(&b, "<p>Amount: %s</p>", html.EscapeString(FormatMoney(currency, int64(amount))))
	}
	return b.String()
}

func quoteBody(p events.QuoteSubmitted) string {
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "<p>Hi %s,</p><p>Thank you for choosing us. Here is the treatment plan you submitted.</p>", html.EscapeString(name))
	if p.PackageName != "" {
		fmt.Fprintf(&b, "<p>Package: <strong>%s</strong></p>", html.EscapeString(p.PackageName))
	}
	b.WriteString("<table><tr><th>Treatment</th><th>Qty</th><th>Price</th></tr>")
	for _, l := range p.Lines {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td><td>%s</td></tr>",
			html.EscapeString(l.Name), l.Quantity, html.EscapeString(FormatMoney(p.Currency, l.Subtotal)))
	}
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<p>Subtotal: %s</p>", html.EscapeString(FormatMoney(p.Currency, p.Subtotal)))
	if p.Discount > 0 {
		label := "Discount"
		if p.Code != "" {
			label = fmt.Sprintf("Discount (%s)", p.Code)
		}
		fmt.Fprintf(&b, "<p>%s: -%s</p>", html.EscapeString(label), html.EscapeString(FormatMoney(p.Currency, p.Discount)))
	}
	fmt.Fprintf(&b, "<p><strong>Total: %s</strong></p>", html.EscapeString(FormatMoney(p.Currency, p.Total)))
	fmt.Fprintf(&b, "<p>Reference: %s</p>", html.EscapeString(p.SubmissionID))
	return b.String()
}

// FormatMoney renders minor units as "GBP 1,234.50".
func FormatMoney(currency string, minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := fmt.Sprintf("%d", minor/100)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	out := fmt.Sprintf("%s%s.%02d", sign, grouped.String(), minor%100)
	if currency = strings.TrimSpace(currency); currency != "" {
		return currency + " " + out
	}
	return out
}
