package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolops/rollcall/pkg/types"
)

const validYAML = `
roster:
  base_url: https://roster.example.org
  username: svc-attendance
  password: hunter2
access_log:
  base_url: https://doors.example.org
  token: abc123
attendance:
  location_pattern: "^Lower School"
  present_threshold: 5
  window_start: "07:45"
  window_end: "08:20"
  dismissal: "15:10"
  timezone: America/Chicago
schedule:
  daily: "25 8 * * 1-5"
  sweep_interval_minutes: 15
status_addr: ":9090"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://roster.example.org", cfg.Roster.BaseURL)
	assert.Equal(t, "svc-attendance", cfg.Roster.Username)
	assert.Equal(t, 5, cfg.Attendance.PresentThreshold)
	assert.Equal(t, 15, cfg.Schedule.SweepIntervalMinutes)
	assert.Equal(t, ":9090", cfg.StatusAddr)

	// Defaults survive a partial file
	assert.Equal(t, 100, cfg.AccessLog.PageSize)
	assert.Equal(t, 8, cfg.Schedule.MaxConcurrency)
	assert.Equal(t, []string{"Bus"}, cfg.Attendance.RestoreChangeTypes)

	window, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, types.TimeOfDay{Hour: 7, Minute: 45}, window.Start)
	assert.Equal(t, "America/Chicago", window.Location.String())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROLLCALL_ROSTER_PASSWORD", "from-env")
	t.Setenv("ROLLCALL_DRY_RUN", "true")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Roster.Password)
	assert.True(t, cfg.DryRun)
}

const baseYAML = `
roster:
  base_url: https://roster.example.org
  username: svc-attendance
  password: hunter2
access_log:
  base_url: https://doors.example.org
  token: abc123
`

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing credentials",
			yaml:    "roster:\n  base_url: https://roster.example.org\naccess_log:\n  base_url: x\n  token: t\nattendance:\n  location_pattern: a\n",
			wantErr: "credentials",
		},
		{
			name:    "missing location pattern",
			yaml:    baseYAML,
			wantErr: "location_pattern",
		},
		{
			name:    "bad pattern",
			yaml:    baseYAML + "attendance:\n  location_pattern: \"[\"\n",
			wantErr: "location_pattern",
		},
		{
			name:    "window out of order",
			yaml:    baseYAML + "attendance:\n  location_pattern: a\n  window_start: \"09:00\"\n  window_end: \"08:00\"\n",
			wantErr: "precede",
		},
		{
			name:    "bad timezone",
			yaml:    baseYAML + "attendance:\n  location_pattern: a\n  timezone: Mars/Olympus\n",
			wantErr: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRestoreTypes(t *testing.T) {
	cfg := defaults()
	set := cfg.RestoreTypes()
	assert.True(t, set[types.ChangeTypeBus])
	assert.False(t, set[types.ChangeTypePickup])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
