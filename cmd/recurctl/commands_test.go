package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes recurctl against a config and database inside dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config", filepath.Join(dir, "habits.yaml"),
		"--db", filepath.Join(dir, "habits.db"),
	}, args...))
	err := root.Execute()
	return out.String(), err
}

const dailySpec = `{"item_id": "stretch", "anchor_local": "2024-01-01T09:00:00", "timezone": "UTC", "rule": "FREQ=DAILY"}`

func TestExpand_PrintsKeysAndLocalTimes(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "expand",
		"--spec", `{"anchor_local": "2024-01-01T21:00:00", "timezone": "Europe/Paris", "rule": "FREQ=DAILY;COUNT=3"}`,
		"--from", "2024-01-01", "--to", "2024-01-31")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "KEY")
	assert.Contains(t, lines[1], "20240101T200000Z")
	assert.Contains(t, lines[1], "2024-01-01T21:00:00")
	assert.Contains(t, lines[3], "20240103T200000Z")
}

func TestExpand_SpecFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(dailySpec), 0o600))

	out, err := run(t, dir, "expand", "--spec", path, "--from", "2024-01-01T00:00:00Z", "--to", "2024-01-02T23:59:59Z")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"), "header and two days")

	_, err = run(t, dir, "expand", "--spec", `{"rule": "FREQ=DAILY"}`, "--from", "2024-01-01", "--to", "2024-01-02")
	assert.Error(t, err, "rule without anchor")

	_, err = run(t, dir, "expand", "--spec", path, "--from", "soon", "--to", "2024-01-02")
	assert.Error(t, err)
}

func TestHabitLifecycle(t *testing.T) {
	dir := t.TempDir()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	// GIVEN: A daily habit
	out, err := run(t, dir, "add", "Stretch", "--spec", dailySpec)
	require.NoError(t, err)
	assert.Equal(t, "created stretch\n", out)

	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "stretch")
	assert.Contains(t, out, "FREQ=DAILY")

	// WHEN: Yesterday is checked by local time
	out, err = run(t, dir, "check", "stretch", yesterday+"T09:00:00", "--quantity", "2", "--note", "easy")
	require.NoError(t, err)
	key := strings.ReplaceAll(yesterday, "-", "") + "T090000Z"
	assert.Equal(t, "checked stretch "+key+" (quantity 2)\n", out)

	// THEN: It shows up in history, stats and the day view
	out, err = run(t, dir, "history", "stretch")
	require.NoError(t, err)
	assert.Contains(t, out, key)
	assert.Contains(t, out, "easy")

	out, err = run(t, dir, "stats", "stretch", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "longest streak: 1")

	out, err = run(t, dir, "day", yesterday, "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, key)

	// WHEN: It is unchecked by key
	out, err = run(t, dir, "uncheck", "stretch", key)
	require.NoError(t, err)
	assert.Equal(t, "unchecked stretch "+key+"\n", out)

	out, err = run(t, dir, "day", yesterday, "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.NotContains(t, out, "done")

	// AND: The horizon can be refreshed
	out, err = run(t, dir, "refresh")
	require.NoError(t, err)
	assert.Equal(t, "refreshed 1 habits\n", out)
}

func TestCheck_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "add", "Stretch", "--spec", dailySpec)
	require.NoError(t, err)

	_, err = run(t, dir, "check", "ghost", "20240101T090000Z")
	assert.Error(t, err)

	_, err = run(t, dir, "check", "stretch", "20240101T090000Z", "--quantity", "lots")
	assert.Error(t, err)

	_, err = run(t, dir, "check", "stretch", "whenever")
	assert.Error(t, err)

	_, err = run(t, dir, "add", "Again", "--spec", dailySpec)
	assert.Error(t, err, "duplicate id")
}

func TestImportExport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cal.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:water",
		"SUMMARY:Water plants",
		"DTSTART:20240101T180000",
		"DURATION:PT10M",
		"RRULE:FREQ=DAILY",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")+"\r\n"), 0o600))

	out, err := run(t, dir, "import", path, "--tz", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "created water\n", out)

	out, err = run(t, dir, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, `skipped "water"`)

	out, err = run(t, dir, "export", "water")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "SUMMARY:Water plants")
	assert.Equal(t, 7, strings.Count(out, "BEGIN:VEVENT"), "next seven evenings")
}
