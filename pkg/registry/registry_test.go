package registry

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoRegistry(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs", "worker-registry.json")
}

func TestLoad_ShippedRegistry(t *testing.T) {
	reg, err := Load(repoRegistry(t))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"analyze-pitch", "advance-onboarding", "vendor-decision"}, reg.Implemented())

	a, ok := reg.Find("analyze-pitch")
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, a.TimeoutOr(time.Second))
	assert.Equal(t, 3, a.Retries)
	assert.Equal(t, StatusImplemented, a.ImplementationStatus)

	_, ok = reg.Find("llm-synthesis")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	act := func(id, taskType string) Activity {
		return Activity{ID: id, DisplayName: id, Category: "onboarding", TaskType: taskType, ImplementationStatus: StatusPlanned}
	}
	with := func(a Activity, edit func(*Activity)) Activity {
		edit(&a)
		return a
	}

	tests := []struct {
		name    string
		acts    []Activity
		wantErr string
	}{
		{"empty", nil, "no activities"},
		{"duplicate id", []Activity{act("a", "a"), act("a", "b")}, "duplicate activity ID"},
		{"duplicate task type", []Activity{act("a", "a"), act("b", "a")}, "duplicate task type"},
		{"missing task type", []Activity{act("a", "")}, "taskType"},
		{"unknown status", []Activity{with(act("a", "a"), func(a *Activity) { a.ImplementationStatus = "done" })}, "implementationStatus"},
		{"negative retries", []Activity{with(act("a", "a"), func(a *Activity) { a.Retries = -1 })}, "negative retries"},
		{"bad timeout", []Activity{with(act("a", "a"), func(a *Activity) { a.Timeout = "soon" })}, "invalid timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&ActivityRegistry{Activities: tt.acts}).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, (&ActivityRegistry{Activities: []Activity{act("a", "a"), act("b", "b")}}).Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	reg := &ActivityRegistry{Version: "1.0.0", Activities: []Activity{
		{ID: "a", DisplayName: "A", Category: "analysis", TaskType: "a", ImplementationStatus: StatusImplemented},
	}}
	require.NoError(t, Save(reg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, loaded.Implemented())
	assert.Equal(t, 5*time.Second, loaded.Activities[0].TimeoutOr(5*time.Second))
}
