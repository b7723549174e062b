package ephemeral_test

import (
	"testing"

	"mailchat/internal/domain/ephemeral"
	"mailchat/internal/domain/message"
)

func TestStockEphemeralTimerChanged(t *testing.T) {
	t.Parallel()

	cases := []struct {
		seconds uint32
		want    string
	}{
		{0, "Message deletion timer is disabled by me."},
		{1, "Message deletion timer is set to 1 s by me."},
		{30, "Message deletion timer is set to 30 s by me."},
		{59, "Message deletion timer is set to 59 s by me."},
		{60, "Message deletion timer is set to 1 minute by me."},
		{61, "Message deletion timer is set to 1 minutes by me."},
		{90, "Message deletion timer is set to 1.5 minutes by me."},
		{30 * 60, "Message deletion timer is set to 30 minutes by me."},
		{3599, "Message deletion timer is set to 60 minutes by me."},
		{3600, "Message deletion timer is set to 1 hour by me."},
		{3601, "Message deletion timer is set to 1 hours by me."},
		{5400, "Message deletion timer is set to 1.5 hours by me."},
		{2 * 3600, "Message deletion timer is set to 2 hours by me."},
		{86399, "Message deletion timer is set to 24 hours by me."},
		{86400, "Message deletion timer is set to 1 day by me."},
		{86401, "Message deletion timer is set to 1 days by me."},
		{2 * 86400, "Message deletion timer is set to 2 days by me."},
		{604799, "Message deletion timer is set to 7 days by me."},
		{604800, "Message deletion timer is set to 1 week by me."},
		{604801, "Message deletion timer is set to 1 weeks by me."},
		{4 * 604800, "Message deletion timer is set to 4 weeks by me."},
	}

	for _, tc := range cases {
		got := ephemeral.StockEphemeralTimerChanged(
			ephemeral.TimerFromSeconds(tc.seconds), message.ContactSelf)
		if got != tc.want {
			t.Fatalf("render(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
