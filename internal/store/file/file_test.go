// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Driver {
		d, err := New(t.TempDir())
		require.NoError(t, err)
		return d
	})
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, d.SaveFilterRecord(ctx, "site", store.NewFilterRecord("4.4.4.4", 42)))
	order, err := d.NextSessionOrder(ctx, "site")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// A new driver over the same directory sees the persisted state.
	d2, err := New(dir)
	require.NoError(t, err)
	rec, err := d2.FilterRecord(ctx, "site", "4.4.4.4")
	require.NoError(t, err)
	assert.Equal(t, "4.4.4.4", rec.IP)
	assert.Equal(t, int64(42), rec.Pageviews[store.UnitSecond].WindowStart)

	next, err := d2.NextSessionOrder(ctx, "site")
	require.NoError(t, err)
	assert.Equal(t, order+1, next, "admission sequence survives reopen")
}
