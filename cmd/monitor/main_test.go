package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/pkg/config"
)

func TestVersionCmd(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version, Commit = "1.2.0", "abc123"
	defer func() { Version, Commit = origVersion, origCommit }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "monitor 1.2.0")
	assert.Contains(t, buf.String(), "commit: abc123")
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["version"])
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("MONITOR_STORE", "memory")
	t.Setenv("MONITOR_QUEUE_BACKEND", "memory")

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"migrate"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store=postgres")
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MONITOR_STORE", "memory")
	t.Setenv("MONITOR_QUEUE_BACKEND", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Worker.Strategies = []string{"fallback", "primary", "fallback"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildAppInMemory(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Schedule.Cron = "*/5 * * * *"

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.coordinator)
	assert.NotNil(t, a.workers)
	assert.NotNil(t, a.scheduler)
	assert.Equal(t, ":"+cfg.Server.Port, a.server.Addr)

	strategies, extractors, err := a.buildExtractors()
	require.NoError(t, err)
	assert.Equal(t, []entity.Strategy{entity.StrategyFallback, entity.StrategyPrimary}, strategies)
	assert.Len(t, extractors, 2)
}

func TestBuildAppRejectsUnknownStrategy(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Worker.Strategies = []string{"teleport"}

	_, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestSelectorsConversion(t *testing.T) {
	sel := selectors(config.SelectorsConfig{
		Item:   ".card",
		IDAttr: "data-id",
		Fields: map[string]config.FieldSelector{"url": {Selector: "a", Attr: "href"}},
	})
	assert.Equal(t, ".card", sel.Item)
	assert.Equal(t, "data-id", sel.IDAttr)
	assert.Equal(t, "href", sel.Fields["url"].Attr)
}
