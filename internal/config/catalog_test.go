package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Len(t, cat.Activities, 9)

	chess, ok := cat.Activities["Chess Club"]
	require.True(t, ok)
	assert.Equal(t, "Learn strategies and compete in chess tournaments", chess.Description)
	assert.Equal(t, "Fridays, 3:30 PM - 5:00 PM", chess.Schedule)
	assert.Equal(t, 12, chess.MaxParticipants)
	assert.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, chess.Participants)

	for _, name := range []string{
		"Programming Class", "Gym Class", "Basketball Team", "Tennis Club",
		"Art Studio", "Music Ensemble", "Robotics Club", "Debate Team",
	} {
		assert.Contains(t, cat.Activities, name)
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Run("empty path uses embedded catalog", func(t *testing.T) {
		cat, err := LoadCatalog("")
		require.NoError(t, err)
		assert.Contains(t, cat.Activities, "Chess Club")
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
activities:
  Drama Club:
    description: Stage plays
    schedule: Mondays
    max_participants: 10
    participants: [ana@mergington.edu]
`), 0o644))

		cat, err := LoadCatalog(path)
		require.NoError(t, err)
		require.Contains(t, cat.Activities, "Drama Club")
		assert.Equal(t, []string{"ana@mergington.edu"}, cat.Activities["Drama Club"].Participants)
	})

	t.Run("json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"activities": {"Choir": {"description": "Sing", "schedule": "Fridays", "max_participants": 40, "participants": []}}}`), 0o644))

		cat, err := LoadCatalog(path)
		require.NoError(t, err)
		assert.Equal(t, 40, cat.Activities["Choir"].MaxParticipants)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "no activities",
			data:    "activities: {}\n",
			wantErr: "no activities",
		},
		{
			name: "zero capacity",
			data: `
activities:
  Chess Club:
    description: x
    schedule: y
    max_participants: 0
`,
			wantErr: "max_participants",
		},
		{
			name: "duplicate participant",
			data: `
activities:
  Chess Club:
    description: x
    schedule: y
    max_participants: 3
    participants: [a@m.edu, a@m.edu]
`,
			wantErr: "listed twice",
		},
		{
			name: "duplicate activity name",
			data: `
activities:
  Chess Club:
    description: x
    schedule: y
    max_participants: 3
  Chess Club:
    description: z
    schedule: w
    max_participants: 4
`,
			wantErr: "parse catalog",
		},
		{
			name:    "malformed yaml",
			data:    "activities: [",
			wantErr: "parse catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.data), FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
