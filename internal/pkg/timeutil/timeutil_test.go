package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUTC(t *testing.T) {
	want := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "naive sqlite", in: "2024-03-09 14:05:07", want: want},
		{name: "naive iso", in: "2024-03-09T14:05:07", want: want},
		{name: "utc rfc3339", in: "2024-03-09T14:05:07Z", want: want},
		{name: "offset rfc3339", in: "2024-03-09T16:05:07+02:00", want: want},
		{name: "fractional", in: "2024-03-09 14:05:07.250", want: want.Add(250 * time.Millisecond)},
		{name: "date only", in: "2024-03-09", want: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{name: "surrounding space", in: " 2024-03-09 14:05:07 ", want: want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUTC(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseUTC_Invalid(t *testing.T) {
	_, err := ParseUTC("yesterday")
	assert.Error(t, err)
}

func TestFormatUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	in := time.Date(2024, 3, 9, 17, 5, 7, 999, loc)

	assert.Equal(t, "2024-03-09 14:05:07", FormatUTC(in))

	back, err := ParseUTC(FormatUTC(in))
	require.NoError(t, err)
	assert.True(t, in.Truncate(time.Second).Equal(back))
}
