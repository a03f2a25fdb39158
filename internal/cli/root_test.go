package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConvertCmdRequiresAtLeastOneFile(t *testing.T) {
	ro := &RootOpts{StorageDir: t.TempDir()}
	cmd := newConvertCmd(ro)
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	assert.Error(t, err)
}

func TestNewServeCmdRegistersAddrFlag(t *testing.T) {
	ro := &RootOpts{StorageDir: t.TempDir()}
	cmd := newServeCmd(ro)
	f := cmd.Flags().Lookup("addr")
	require.NotNil(t, f)
	assert.Equal(t, "127.0.0.1:11535", f.DefValue)
}
