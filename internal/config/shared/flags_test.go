package shared_config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithArgs(t *testing.T, args ...string) string {
	t.Helper()
	var got string
	cmd := &cobra.Command{Use: "svc"}
	path := AddConfigFlag(cmd, "config/svc.yaml")
	cmd.RunE = func(*cobra.Command, []string) error {
		got = path()
		return nil
	}
	cmd.SetArgs(append([]string{}, args...))
	require.NoError(t, cmd.Execute())
	return got
}

func TestAddConfigFlag_Precedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "config/svc.yaml", runWithArgs(t))

	t.Setenv(EnvConfigPath, "/etc/deliverus/svc.yaml")
	assert.Equal(t, "/etc/deliverus/svc.yaml", runWithArgs(t))
	assert.Equal(t, "./local.yaml", runWithArgs(t, "--config", "./local.yaml"))
}
