package serve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/memorycore"
)

func TestCommandDefinesTheServeSubcommand(t *testing.T) {
	cmd := Command()
	assert.Equal(t, "serve", cmd.Name)
	assert.NotNil(t, cmd.Action)
}

func TestLogLevelFlagWiresItsDestination(t *testing.T) {
	cfg := config.DefaultConfig()
	var stdio bool
	var logLevel string

	fs := flags(&cfg, &stdio, &logLevel)

	var found *cli.StringFlag
	for _, f := range fs {
		if sf, ok := f.(*cli.StringFlag); ok && sf.Name == "log-level" {
			found = sf
		}
	}
	require.NotNil(t, found, "expected a log-level flag")
	assert.Same(t, &logLevel, found.Destination, "log-level flag must write into the logLevel variable")
}

func TestWireBuildsAWorkingCoreAgainstSQLite(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBKind = "sqlite"
	cfg.DBURL = ":memory:"
	cfg.DBMaxOpenConns = 1
	cfg.DBMaxIdleConns = 1
	cfg.MigrateAtStart = true
	cfg.EmbedKind = "disabled"

	b, err := wire(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, b.core)
	require.NotNil(t, b.broker)
	require.NotNil(t, b.oauth)

	res, err := b.core.AddMemory(context.Background(), "u1", "t", "c", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
}

func TestMonitorAllUsersReturnsOnContextCancellation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBKind = "sqlite"
	cfg.DBURL = ":memory:"
	cfg.DBMaxOpenConns = 1
	cfg.DBMaxIdleConns = 1
	cfg.MigrateAtStart = true

	b, err := wire(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitorAllUsers(ctx, b.store, b.worker, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitorAllUsers did not return after context cancellation")
	}
}
