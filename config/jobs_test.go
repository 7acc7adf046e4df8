package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

func writeJobsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func loadJobsFile(t *testing.T, content string) (*JobSource, error) {
	t.Helper()
	return LoadJobs(writeJobsFile(t, content), zap.NewNop().Sugar())
}

func TestLoadJobs(t *testing.T) {
	source, err := loadJobsFile(t, `{
		"jobs": [
			{
				"id": "build",
				"name": "Build",
				"command": "make build",
				"category": "ci",
				"options": [
					{"flag": "verbose", "type": "boolean", "default": false},
					{"arg": "target", "type": "string", "default": "all"}
				],
				"execution": {
					"timeoutMs": 60000,
					"maxRetries": 2,
					"retryDelayMs": 500,
					"backoff": "exponential"
				}
			},
			{"id": "deploy", "command": "make deploy"}
		],
		"edges": [
			{"id": "e1", "from": "build", "to": "deploy", "condition": {"type": "onSuccess"}}
		]
	}`)
	require.NoError(t, err)

	jobs := source.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "build", jobs[0].ID)
	assert.Equal(t, "Build", jobs[0].Name)
	assert.Equal(t, time.Minute, jobs[0].Execution.Timeout)
	assert.Equal(t, 2, jobs[0].Execution.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, jobs[0].Execution.RetryDelay)
	assert.Equal(t, engine.BackoffExponential, jobs[0].Execution.Backoff)
	require.Len(t, jobs[0].Options, 2)

	// Name falls back to the id, backoff to fixed
	assert.Equal(t, "deploy", jobs[1].Name)
	assert.Equal(t, engine.BackoffFixed, jobs[1].Execution.Backoff)

	deploy, ok := source.JobByID("deploy")
	require.True(t, ok)
	assert.Equal(t, "make deploy", deploy.Command)

	edges := source.Edges()
	require.Len(t, edges, 1)
	require.NotNil(t, edges[0].Condition)
	assert.Equal(t, engine.CondOnSuccess, edges[0].Condition.Type)
}

func TestLoadJobsValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing id", `{"jobs": [{"command": "true"}]}`},
		{"duplicate id", `{"jobs": [{"id": "a", "command": "x"}, {"id": "a", "command": "y"}]}`},
		{"missing command", `{"jobs": [{"id": "a"}]}`},
		{"unknown backoff", `{"jobs": [{"id": "a", "command": "x", "execution": {"backoff": "fibonacci"}}]}`},
		{"negative retries", `{"jobs": [{"id": "a", "command": "x", "execution": {"maxRetries": -1}}]}`},
		{"option no flag or arg", `{"jobs": [{"id": "a", "command": "x", "options": [{"type": "boolean"}]}]}`},
		{"option both flag and arg", `{"jobs": [{"id": "a", "command": "x", "options": [{"flag": "f", "arg": "a", "type": "string"}]}]}`},
		{"option unknown kind", `{"jobs": [{"id": "a", "command": "x", "options": [{"flag": "f", "type": "toggle"}]}]}`},
		{"select without choices", `{"jobs": [{"id": "a", "command": "x", "options": [{"flag": "env", "type": "select"}]}]}`},
		{"edge unknown source", `{"jobs": [{"id": "a", "command": "x"}], "edges": [{"id": "e", "from": "ghost", "to": "a"}]}`},
		{"edge unknown target", `{"jobs": [{"id": "a", "command": "x"}], "edges": [{"id": "e", "from": "a", "to": "ghost"}]}`},
		{"onOutput without pattern", `{"jobs": [{"id": "a", "command": "x"}], "edges": [{"id": "e", "from": "a", "to": "a", "condition": {"type": "onOutput"}}]}`},
		{"unknown match type", `{"jobs": [{"id": "a", "command": "x"}], "edges": [{"id": "e", "from": "a", "to": "a", "condition": {"type": "onOutput", "pattern": "ok", "matchType": "glob"}}]}`},
		{"unknown condition type", `{"jobs": [{"id": "a", "command": "x"}], "edges": [{"id": "e", "from": "a", "to": "a", "condition": {"type": "onTuesday"}}]}`},
		{"not json", `{"jobs": [`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadJobsFile(t, tc.content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got: %v", err)
		})
	}
}

func TestLoadJobsLegacyEdges(t *testing.T) {
	source, err := loadJobsFile(t, `{
		"jobs": [
			{"id": "a", "command": "x"},
			{"id": "b", "command": "y"}
		],
		"edges": [
			{"id": "bare", "from": "a", "to": "b"},
			{"id": "armed", "from": "a", "to": "b", "trigger": true},
			{"id": "any-status", "from": "a", "to": "b", "trigger": true, "onSuccess": false}
		]
	}`)
	require.NoError(t, err)

	edges := source.Edges()
	require.Len(t, edges, 3)

	// No trigger field means the edge is dormant; absent onSuccess
	// defaults to firing on success only
	assert.False(t, edges[0].LegacyTrigger)
	assert.True(t, edges[0].LegacyOnSuccess)

	assert.True(t, edges[1].LegacyTrigger)
	assert.True(t, edges[1].LegacyOnSuccess)

	assert.True(t, edges[2].LegacyTrigger)
	assert.False(t, edges[2].LegacyOnSuccess)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeJobsFile(t, `{"jobs": [{"id": "a", "command": "x"}]}`)
	source, err := LoadJobs(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, source.Jobs(), 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"jobs": [{"id": "a"}]}`), 0644))
	require.Error(t, source.Reload())

	// Previous definitions survive a bad reload
	jobs := source.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "x", jobs[0].Command)
}

func TestLoadJobsMissingFile(t *testing.T) {
	_, err := LoadJobs(filepath.Join(t.TempDir(), "jobs.json"), zap.NewNop().Sugar())
	require.Error(t, err)
}
