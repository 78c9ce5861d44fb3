// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Driver {
		d, err := Open(filepath.Join(t.TempDir(), "doorman.sqlite3"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		return d
	})
}
