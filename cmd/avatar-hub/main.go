// avatar-hub: command source for avatar clients
// Accepts WebSocket connections from avatars and exposes a REST API that
// pushes commands to them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-avatar/internal/config"
)

var (
	version = "1.0.0"
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "avatar-hub",
	Short:         "Command source for avatar clients",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./avatar.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")
	bindFlags(v, rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	rootCmd.AddCommand(serveCmd, pushCmd)
}

// bindFlags binds flags to config keys. Flags only override when set.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
