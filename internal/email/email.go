// Package email delivers reminders by mail through Postmark or SendGrid.
package email

import (
	"context"
	"fmt"
	"html"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// Message is a provider-neutral outgoing mail.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier mails reminders to their owner.
type Notifier struct {
	mailer  Mailer
	baseURL string
}

func NewNotifier(mailer Mailer, baseURL string) *Notifier {
	return &Notifier{mailer: mailer, baseURL: baseURL}
}

// Notify sends r. Owners without an address are skipped.
func (n *Notifier) Notify(ctx context.Context, r model.Reminder) error {
	if r.Email == "" {
		return nil
	}
	text := r.Text()
	link := fmt.Sprintf("%s/occurrences/%d", n.baseURL, r.OccurrenceID)
	return n.mailer.Send(ctx, Message{
		To:      r.Email,
		ToName:  r.Name,
		Subject: "Reminder: " + r.Title,
		Text:    fmt.Sprintf("%s\n\n%s", text, link),
		HTML: fmt.Sprintf(`<p>%s</p><p><a href="%s">Open in AlwaysPlan</a></p>`,
			html.EscapeString(text), html.EscapeString(link)),
	})
}
