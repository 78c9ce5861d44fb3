// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package actionlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadBack(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer l.Close()

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, l.Append(Entry{Timestamp: ts, Channel: "web", IP: "1.2.3.4", ActionCode: 0, ReasonCode: 14}))
	require.NoError(t, l.Append(Entry{Timestamp: ts + 1, Channel: "web", IP: "1.2.3.5", ActionCode: 1, ReasonCode: 0}))

	got, err := l.Entries("2026-03-14")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.2.3.4", got[0].IP)
	assert.Equal(t, 14, got[0].ReasonCode)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestDailyRotation(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer l.Close()

	day1 := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC).Unix()
	day2 := time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC).Unix()
	require.NoError(t, l.Append(Entry{Timestamp: day1, IP: "1.1.1.1"}))
	require.NoError(t, l.Append(Entry{Timestamp: day2, IP: "2.2.2.2"}))

	first, err := l.Entries("2026-03-14")
	require.NoError(t, err)
	second, err := l.Entries("2026-03-15")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "1.1.1.1", first[0].IP)
	assert.Equal(t, "2.2.2.2", second[0].IP)
}

func TestEntriesMissingDate(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer l.Close()

	got, err := l.Entries("1999-01-01")
	require.NoError(t, err)
	assert.Empty(t, got)
}
