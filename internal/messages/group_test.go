package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

func msgAt(id, sender string, t time.Time) domain.Message {
	return domain.Message{ID: id, SenderID: sender, Text: id, SentAt: domain.Confirmed(t)}
}

func TestGroupByDate(t *testing.T) {
	day1 := time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		msgAt("m1", "a", day1),
		msgAt("m2", "a", day1.Add(time.Minute)),
		msgAt("m3", "b", day1.Add(2*time.Minute)),
		msgAt("m4", "b", day2),
		{ID: "p1", SenderID: "a", SentAt: domain.Pending(1)},
	}

	groups := GroupByDate(msgs, time.UTC)
	require.Len(t, groups, 2)
	require.Equal(t, "March 9, 2024", groups[0].Label)
	require.Equal(t, "March 10, 2024", groups[1].Label)

	first := groups[0].Items
	require.Len(t, first, 3)
	require.True(t, first[0].FirstInRun)
	require.False(t, first[0].LastInRun)
	require.False(t, first[1].FirstInRun)
	require.True(t, first[1].LastInRun)
	require.True(t, first[2].FirstInRun)
	require.True(t, first[2].LastInRun)

	// the pending message is not grouped
	require.Len(t, groups[1].Items, 1)
	require.Equal(t, "m4", groups[1].Items[0].Message.ID)
}

func TestGroupByDate_Location(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	msgs := []domain.Message{msgAt("m1", "a", time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC))}

	require.Equal(t, "March 10, 2024", GroupByDate(msgs, tokyo)[0].Label)
	require.Equal(t, "March 9, 2024", GroupByDate(msgs, nil)[0].Label)
	require.Empty(t, GroupByDate(nil, nil))
}

func TestToResp_MediaAndText(t *testing.T) {
	at := time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC)
	mediaOnly := domain.Message{
		ID: "m1", SenderID: "a", SentAt: domain.Confirmed(at),
		Media: &domain.Media{URL: "https://x/cat.png", Type: domain.MediaImage},
	}
	r := ToResp(mediaOnly, "a")
	require.Empty(t, r.Text)
	require.Equal(t, "https://x/cat.png", r.Media.URL)
	require.True(t, r.Mine)

	both := mediaOnly
	both.Text = "look"
	both.ReadBy = map[string]domain.ReadState{"b": domain.ReadAt(at)}
	r = ToResp(both, "a")
	require.Equal(t, "look", r.Text)
	require.NotNil(t, r.Media)
	require.True(t, r.SeenByOthers)
}
