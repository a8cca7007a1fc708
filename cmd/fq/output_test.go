package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusquest/internal/domain"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "[##########++++++....]  50% →  80%", bar(50, 80))
	assert.Equal(t, "[####################] 100% → 100%", bar(100, 100))
	assert.Equal(t, "[....................]   0% →   0%", bar(0, 0))
}

func TestPrintEventsJSON(t *testing.T) {
	viper.Set("json", true)
	t.Cleanup(func() { viper.Set("json", false) })

	var buf bytes.Buffer
	require.NoError(t, printEvents(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())

	buf.Reset()
	ev := domain.ProgressionEvent{ID: "a", Target: domain.TargetPlayer, Amount: 25, Level: 1, ToPercent: 25}
	require.NoError(t, printEvents(&buf, []domain.ProgressionEvent{ev}))
	var got []domain.ProgressionEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 25, got[0].Amount)
}

func TestXPPreviewCommands(t *testing.T) {
	viper.Set("json", true)
	t.Cleanup(func() { viper.Set("json", false) })

	run := func(cmdArgs ...string) []domain.ProgressionEvent {
		t.Helper()
		cmd := xpCmd()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		cmd.SetArgs(cmdArgs)
		require.NoError(t, cmd.Execute())
		var got []domain.ProgressionEvent
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got), buf.String())
		require.Len(t, got, 1)
		return got
	}

	ev := run("companion", "--card-xp", "80", "--for-next", "100", "--amount", "30")[0]
	assert.Equal(t, domain.TargetCompanion, ev.Target)
	assert.InDelta(t, 50, ev.FromPercent, 1e-9)
	assert.InDelta(t, 80, ev.ToPercent, 1e-9)

	ev = run("player", "--xp", "150", "--amount", "300")[0]
	assert.Equal(t, domain.TargetPlayer, ev.Target)
	assert.Equal(t, 2, ev.Level)
	assert.True(t, ev.LevelUp)
	assert.InDelta(t, 100, ev.ToPercent, 1e-9)
}

func TestParseSessionID(t *testing.T) {
	id, err := parseSessionID("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	_, err = parseSessionID("0")
	assert.Error(t, err)
	_, err = parseSessionID("x")
	assert.Error(t, err)
}
