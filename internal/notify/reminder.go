// Package notify builds the reminder content sent for an upcoming occasion and
// renders it for each channel.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/occurrence"
	"github.com/jimdaga/giftwise/internal/transport"
)

const (
	colorUrgent  = 0xE74C3C
	colorDefault = 0x5865F2

	slackUrgent  = "#E01E5A"
	slackDefault = "#2EB67D"
)

// Reminder is the channel-independent content of one reminder.
// It travels inside queued delivery jobs, so it carries data only.
type Reminder struct {
	UserName      string    `json:"user_name"`
	PersonName    string    `json:"person_name"`
	OccasionName  string    `json:"occasion_name"`
	Date          time.Time `json:"date"`
	DaysUntil     int       `json:"days_until"`
	Milestone     *int      `json:"milestone,omitempty"`
	ShowMilestone bool      `json:"show_milestone"`
	BudgetCents   *int64    `json:"budget_cents,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// NewReminder builds the reminder for the occurrence of occasion on date.
func NewReminder(user models.User, occasion models.Occasion, date, today, now time.Time) Reminder {
	r := Reminder{
		UserName:      user.Name,
		PersonName:    occasion.Person.Name,
		OccasionName:  occasion.Name,
		Date:          occurrence.Date(date),
		DaysUntil:     occurrence.DaysUntil(today, date),
		ShowMilestone: occasion.ShowMilestone,
		BudgetCents:   occasion.BudgetCents,
		GeneratedAt:   now.UTC(),
	}
	if n, ok := occurrence.Milestone(occasion.Date, occasion.IsRecurring, date.Year()); ok {
		r.Milestone = &n
	}
	return r
}

// Title names the occasion, e.g. "Alice's 35th Birthday".
func (r Reminder) Title() string {
	name := r.OccasionName
	if r.ShowMilestone && r.Milestone != nil && *r.Milestone > 0 {
		name = occurrence.Ordinal(*r.Milestone) + " " + name
	}
	if r.PersonName == "" {
		return name
	}
	return possessive(r.PersonName) + " " + name
}

// When describes the distance to the occasion.
func (r Reminder) When() string {
	switch r.DaysUntil {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	}
	return fmt.Sprintf("in %d days", r.DaysUntil)
}

// Summary is the one-line description used by every channel.
func (r Reminder) Summary() string {
	return fmt.Sprintf("%s is %s (%s).", r.Title(), r.When(), r.Date.Format("Monday, January 2"))
}

func (r Reminder) budget() string {
	if r.BudgetCents == nil {
		return ""
	}
	return fmt.Sprintf("Budget: $%d.%02d", *r.BudgetCents/100, *r.BudgetCents%100)
}

func (r Reminder) urgent() bool { return r.DaysUntil <= 1 }

func (r Reminder) RenderMail() *transport.MailMessage {
	var b strings.Builder
	if r.UserName != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", r.UserName)
	}
	b.WriteString(r.Summary())
	b.WriteString("\n")
	if budget := r.budget(); budget != "" {
		b.WriteString("\n" + budget + "\n")
	}
	b.WriteString("\nNow is a good time to pick a gift.\n")

	return &transport.MailMessage{
		Subject: fmt.Sprintf("Reminder: %s %s", r.Title(), r.When()),
		Body:    b.String(),
	}
}

func (r Reminder) RenderDiscord() *transport.DiscordMessage {
	color := colorDefault
	if r.urgent() {
		color = colorUrgent
	}
	description := r.Summary()
	if budget := r.budget(); budget != "" {
		description += "\n" + budget
	}
	return &transport.DiscordMessage{
		Content: "Upcoming occasion reminder",
		Embeds: []transport.DiscordEmbed{{
			Title:       r.Title(),
			Description: description,
			Color:       color,
			Timestamp:   transport.DiscordTimestamp(r.GeneratedAt),
		}},
	}
}

func (r Reminder) RenderSlack() any {
	color := slackDefault
	if r.urgent() {
		color = slackUrgent
	}
	text := r.Summary()
	if budget := r.budget(); budget != "" {
		text += "\n" + budget
	}
	return &transport.SlackMessage{
		Text: "Upcoming occasion reminder",
		Attachments: []transport.SlackAttachment{{
			Color: color,
			Title: r.Title(),
			Text:  text,
			Ts:    r.GeneratedAt.Unix(),
		}},
	}
}

func (r Reminder) RenderPush() any {
	body := map[string]any{
		"title":      r.Title(),
		"body":       r.Summary(),
		"date":       r.Date.Format(models.DateLayout),
		"days_until": r.DaysUntil,
	}
	if r.Milestone != nil {
		body["milestone"] = *r.Milestone
	}
	return body
}

func possessive(name string) string {
	if strings.HasSuffix(name, "s") {
		return name + "'"
	}
	return name + "'s"
}
