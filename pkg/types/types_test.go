package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{"morning", "07:30", TimeOfDay{7, 30}, false},
		{"midnight", "00:00", TimeOfDay{0, 0}, false},
		{"end of day", "23:59", TimeOfDay{23, 59}, false},
		{"hour out of range", "24:00", TimeOfDay{}, true},
		{"minute out of range", "10:60", TimeOfDay{}, true},
		{"garbage", "noonish", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttendanceWindowValidate(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name    string
		window  AttendanceWindow
		wantErr bool
	}{
		{
			name:   "ordered",
			window: AttendanceWindow{TimeOfDay{7, 30}, TimeOfDay{8, 15}, TimeOfDay{15, 0}, loc},
		},
		{
			name:    "start after end",
			window:  AttendanceWindow{TimeOfDay{9, 0}, TimeOfDay{8, 15}, TimeOfDay{15, 0}, loc},
			wantErr: true,
		},
		{
			name:    "dismissal before end",
			window:  AttendanceWindow{TimeOfDay{7, 30}, TimeOfDay{8, 15}, TimeOfDay{8, 0}, loc},
			wantErr: true,
		},
		{
			name:    "missing zone",
			window:  AttendanceWindow{TimeOfDay{7, 30}, TimeOfDay{8, 15}, TimeOfDay{15, 0}, nil},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAttendanceWindowBounds(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	w := AttendanceWindow{
		Start:     TimeOfDay{7, 30},
		End:       TimeOfDay{8, 15},
		Dismissal: TimeOfDay{15, 0},
		Location:  loc,
	}

	// The window carries no date; the caller's date is attached at run time
	date := time.Date(2026, 3, 9, 11, 47, 3, 0, loc)
	start, end := w.Bounds(date)

	assert.Equal(t, time.Date(2026, 3, 9, 7, 30, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 3, 9, 8, 15, 0, 0, loc), end)
	assert.Equal(t, time.Date(2026, 3, 9, 15, 0, 0, 0, loc), w.DismissalAt(date))
}

func TestMarkResultPartial(t *testing.T) {
	assert.False(t, MarkResult{Succeeded: 3, Failed: 0, Total: 3}.Partial())
	assert.False(t, MarkResult{Succeeded: 0, Failed: 3, Total: 3}.Partial())
	assert.True(t, MarkResult{Succeeded: 2, Failed: 1, Total: 3}.Partial())
	assert.False(t, MarkResult{}.Partial())
}
