//go:build linux

package quote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableDevice(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	missing := filepath.Join(dir, "isgx")
	present := filepath.Join(dir, "sgx_enclave")
	require.NoError(os.WriteFile(present, nil, 0o600))

	dev, ok := availableDevice([]string{missing, present})
	assert.True(ok)
	assert.Equal(present, dev)

	_, ok = availableDevice([]string{missing})
	assert.False(ok)
}
