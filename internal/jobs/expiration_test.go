package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/pkg/api"
)

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		name string
		kind api.TimerKind
		expr string
		want api.ExpirationTime
	}{
		{"cycle with count", api.TimeCycle, "3#5s#10s", api.RepeatExpiration(5*time.Second, 10*time.Second, 3)},
		{"cycle delay only", api.TimeCycle, "5s", api.RepeatExpiration(5*time.Second, 5*time.Second, -1)},
		{"cycle delay and period", api.TimeCycle, "1s#2m", api.RepeatExpiration(time.Second, 2*time.Minute, -1)},
		{"cycle negative count", api.TimeCycle, "-1#PT1S#PT2S", api.RepeatExpiration(time.Second, 2*time.Second, -1)},
		{"duration", api.TimeDuration, "PT1M30S", api.RepeatExpiration(90*time.Second, 90*time.Second, -1)},
		{"date", api.TimeDate, "2030-01-02T03:04:05Z",
			api.ExactExpiration(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpiration(tt.kind, tt.expr)
			require.NoError(t, err)
			require.Equal(t, tt.want.Delay, got.Delay)
			require.Equal(t, tt.want.Period, got.Period)
			require.Equal(t, tt.want.RepeatCount, got.RepeatCount)
			require.True(t, tt.want.At.Equal(got.At))
		})
	}
}

func TestParseExpiration_Errors(t *testing.T) {
	_, err := ParseExpiration("CRON", "* * * * *")
	require.ErrorIs(t, err, api.ErrUnsupportedOperation)

	for _, expr := range []string{"", "x#1s#1s", "1#2#3#4", "soon"} {
		_, err := ParseExpiration(api.TimeCycle, expr)
		require.Error(t, err, expr)
	}
	_, err = ParseExpiration(api.TimeDate, "tomorrow")
	require.Error(t, err)
}

func TestParseDuration_ISO(t *testing.T) {
	tests := map[string]time.Duration{
		"PT5S":   5 * time.Second,
		"P1DT2H": 26 * time.Hour,
		"PT0.5S": 500 * time.Millisecond,
		"P1W":    7 * 24 * time.Hour,
		"pt2m":   2 * time.Minute,
		"1h30m":  90 * time.Minute,
		"250ms":  250 * time.Millisecond,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"P", "PT", "P1Y", "P2M", "PXS", "P1Y2M"} {
		_, err := ParseDuration(bad)
		require.Error(t, err, bad)
	}
}
