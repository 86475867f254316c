package messages

import (
	"time"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

const DateLabelLayout = "January 2, 2006"

type Item struct {
	Message domain.Message
	// FirstInRun and LastInRun mark the ends of a run of consecutive
	// messages by one sender inside a group.
	FirstInRun bool
	LastInRun  bool
}

type DateGroup struct {
	Label string
	Items []Item
}

// GroupByDate splits an ordered message list into calendar-day groups in loc,
// keeping order. Messages without a resolved timestamp are left out.
func GroupByDate(msgs []domain.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []DateGroup
	for _, m := range msgs {
		t, ok := m.SentAt.Time()
		if !ok {
			continue
		}
		label := t.In(loc).Format(DateLabelLayout)
		if len(groups) == 0 || groups[len(groups)-1].Label != label {
			groups = append(groups, DateGroup{Label: label})
		}
		g := &groups[len(groups)-1]
		g.Items = append(g.Items, Item{Message: m})
	}

	for gi := range groups {
		items := groups[gi].Items
		for i := range items {
			sender := items[i].Message.SenderID
			items[i].FirstInRun = i == 0 || items[i-1].Message.SenderID != sender
			items[i].LastInRun = i == len(items)-1 || items[i+1].Message.SenderID != sender
		}
	}
	return groups
}
