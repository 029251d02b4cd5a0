package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCmd(t *testing.T, root *cobra.Command, args ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find(args)
	require.NoError(t, err)
	return cmd
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"worker", "serve", "submit", "migrate", "deadletters"})

	dl := findCmd(t, root, "deadletters", "list")
	assert.Equal(t, "list", dl.Name())
}

func TestFlagOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want map[string]any
	}{
		{
			name: "nothing set",
			args: nil,
			want: map[string]any{},
		},
		{
			name: "bound flags",
			args: []string{"--port", "9090", "--log-level", "debug"},
			want: map[string]any{"server.port": "9090", "server.log_level": "debug"},
		},
		{
			name: "dev preset",
			args: []string{"--dev"},
			want: map[string]any{"database.store": "memory", "redis.backend": "memory"},
		},
		{
			name: "dev explicitly off",
			args: []string{"--dev=false"},
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			serve := findCmd(t, newRootCmd(), "serve")
			require.NoError(t, serve.ParseFlags(tt.args))
			assert.Equal(t, tt.want, flagOverrides(serve))
		})
	}
}

func TestWorkerFlagOverrides(t *testing.T) {
	t.Parallel()
	w := findCmd(t, newRootCmd(), "worker")
	require.NoError(t, w.ParseFlags([]string{"--batch-size", "2", "--max-runtime", "30s"}))

	assert.Equal(t, map[string]any{
		"worker.batch_size":  "2",
		"worker.max_runtime": "30s",
	}, flagOverrides(w))
}

// execute runs the CLI against in-memory backends.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VIDGEN_DATABASE_STORE", "memory")
	t.Setenv("VIDGEN_REDIS_BACKEND", "memory")
	t.Setenv("VIDGEN_SERVER_LOG_LEVEL", "error")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSharedBackendCommandsRefuseMemory(t *testing.T) {
	_, err := execute(t, "submit", "--student", "s", "--query", "q", "--grade", "3")
	assert.ErrorIs(t, err, errSharedBackends)

	_, err = execute(t, "deadletters", "list")
	assert.ErrorIs(t, err, errSharedBackends)

	_, err = execute(t, "worker")
	assert.ErrorIs(t, err, errSharedBackends)
}

func TestMigrate(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres store")

	_, err = execute(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestDevPipeline(t *testing.T) {
	t.Parallel()
	p := devPipeline(time.Millisecond)

	res, err := p.Generate(context.Background(), generation.Request{
		RequestID:           "r1",
		Query:               "volcanoes",
		PersonalizationHint: " Basketball, soccer",
	})
	require.NoError(t, err)
	assert.Equal(t, "basketball", res.SelectedValue)
	assert.Equal(t, "dev://videos/r1.mp4", res.ArtifactRef)

	res, err = p.Generate(context.Background(), generation.Request{RequestID: "r2"})
	require.NoError(t, err)
	assert.Empty(t, res.SelectedValue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = devPipeline(time.Hour).Generate(ctx, generation.Request{RequestID: "r3"})
	require.Error(t, err)
	assert.True(t, generation.IsRetryable(err))
}
