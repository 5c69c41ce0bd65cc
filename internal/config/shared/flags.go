package shared_config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvConfigPath names the variable consulted when --config is not passed.
const EnvConfigPath = "DELIVERUS_CONFIG"

// AddConfigFlag registers --config on cmd and returns its resolver.
// An explicit flag wins over DELIVERUS_CONFIG, which wins over def.
func AddConfigFlag(cmd *cobra.Command, def string) func() string {
	cmd.PersistentFlags().String("config", def, "path to the yaml config (env "+EnvConfigPath+")")
	v := viper.New()
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = v.BindEnv("config", EnvConfigPath)
	return func() string { return v.GetString("config") }
}
