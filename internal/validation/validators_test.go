// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/doorman/internal/errors"
)

func TestValidateIP(t *testing.T) {
	assert.NoError(t, ValidateIP("141.112.175.1"))
	assert.NoError(t, ValidateIP("0:0:0:0:0:ffff:c0a8:5f01"))
	assert.NoError(t, ValidateIP("2607:f0d0:1002:51::4"))

	for _, bad := range []string{"", "999.1.1.1", "not-an-ip", "10.0.0.0/8"} {
		err := ValidateIP(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	}
}

func TestValidateIPOrCIDR(t *testing.T) {
	assert.NoError(t, ValidateIPOrCIDR("10.0.0.0/8"))
	assert.NoError(t, ValidateIPOrCIDR("2607:f0d0::/32"))
	assert.NoError(t, ValidateIPOrCIDR("8.8.8.8"))
	assert.Error(t, ValidateIPOrCIDR("10.0.0.0/99"))
	assert.Error(t, ValidateIPOrCIDR(""))
}

func TestValidateChannel(t *testing.T) {
	assert.NoError(t, ValidateChannel("doorman"))
	assert.NoError(t, ValidateChannel("site_one-2"))

	assert.Error(t, ValidateChannel(""))
	assert.Error(t, ValidateChannel("bad channel"))
	assert.Error(t, ValidateChannel("drop;tables"))
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateChannel(string(long)))
}
