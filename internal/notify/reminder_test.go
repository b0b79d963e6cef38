package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func birthday(show bool) models.Occasion {
	budget := int64(5000)
	return models.Occasion{
		Person:        models.Person{Name: "Alice"},
		Name:          "Birthday",
		Date:          date("1990-06-05"),
		IsRecurring:   true,
		ShowMilestone: show,
		BudgetCents:   &budget,
	}
}

func TestNewReminder(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)
	r := NewReminder(models.User{Name: "Bob"}, birthday(true), date("2025-06-05"), date("2025-06-01"), now)

	require.NotNil(t, r.Milestone)
	assert.Equal(t, 35, *r.Milestone)
	assert.Equal(t, 4, r.DaysUntil)
	assert.Equal(t, "Alice's 35th Birthday", r.Title())
	assert.Equal(t, "in 4 days", r.When())
	assert.Equal(t, "Alice's 35th Birthday is in 4 days (Thursday, June 5).", r.Summary())
}

func TestTitle(t *testing.T) {
	now := time.Now()
	hidden := NewReminder(models.User{}, birthday(false), date("2025-06-05"), date("2025-06-05"), now)
	assert.Equal(t, "Alice's Birthday", hidden.Title())
	assert.Equal(t, "today", hidden.When())

	oneOff := birthday(true)
	oneOff.IsRecurring = false
	r := NewReminder(models.User{}, oneOff, date("1990-06-05"), date("1990-06-04"), now)
	assert.Nil(t, r.Milestone)
	assert.Equal(t, "Alice's Birthday", r.Title())
	assert.Equal(t, "tomorrow", r.When())

	zero := NewReminder(models.User{}, birthday(true), date("1990-06-05"), date("1990-06-01"), now)
	require.NotNil(t, zero.Milestone)
	assert.Equal(t, 0, *zero.Milestone)
	assert.Equal(t, "Alice's Birthday", zero.Title(), "no ordinal for the base year")

	james := birthday(true)
	james.Person.Name = "James"
	assert.Equal(t, "James' 35th Birthday", NewReminder(models.User{}, james, date("2025-06-05"), date("2025-06-01"), now).Title())
}

func TestRenderers(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)
	r := NewReminder(models.User{Name: "Bob"}, birthday(true), date("2025-06-05"), date("2025-06-01"), now)

	mail := r.RenderMail()
	assert.Equal(t, "Reminder: Alice's 35th Birthday in 4 days", mail.Subject)
	assert.Contains(t, mail.Body, "Hi Bob,")
	assert.Contains(t, mail.Body, "Budget: $50.00")

	discord := r.RenderDiscord()
	require.Len(t, discord.Embeds, 1)
	assert.Equal(t, colorDefault, discord.Embeds[0].Color)
	assert.Equal(t, "2025-06-01T09:05:00Z", discord.Embeds[0].Timestamp)

	slack, ok := r.RenderSlack().(*transport.SlackMessage)
	require.True(t, ok)
	require.Len(t, slack.Attachments, 1)
	assert.Equal(t, now.Unix(), slack.Attachments[0].Ts)

	push := r.RenderPush().(map[string]any)
	assert.Equal(t, "2025-06-05", push["date"])
	assert.Equal(t, 35, push["milestone"])

	urgent := NewReminder(models.User{}, birthday(true), date("2025-06-05"), date("2025-06-04"), now)
	assert.Equal(t, colorUrgent, urgent.RenderDiscord().Embeds[0].Color)
}

func TestReminderSurvivesJSON(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)
	r := NewReminder(models.User{Name: "Bob"}, birthday(true), date("2025-06-05"), date("2025-06-01"), now)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded Reminder
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Title(), decoded.Title())
	assert.Equal(t, r.RenderMail(), decoded.RenderMail())
}

var (
	_ transport.MailRenderer    = Reminder{}
	_ transport.DiscordRenderer = Reminder{}
	_ transport.SlackRenderer   = Reminder{}
	_ transport.PushRenderer    = Reminder{}
)
