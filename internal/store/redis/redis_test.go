// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Driver {
		mr := miniredis.RunT(t)
		d, err := Open(context.Background(), Options{Addr: mr.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		return d
	})
}
