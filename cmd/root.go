package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentflow",
	Short: "Headless core of the agent flow editor",
	Long: `agentflow owns one editing workspace: a project graph that is autosaved
to the project store and the chat session that drives the project's agents.
A renderer talks to it over a local JSON API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .agentflow/config.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("backend-url", "", "agent backend base URL")
	viper.BindPFlag("backend.url", rootCmd.PersistentFlags().Lookup("backend-url"))

	rootCmd.PersistentFlags().String("database-url", "", "Postgres URL; when set projects are stored directly")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("backend.url", "http://localhost:8000/v1")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.user_id", 0)
	v.SetDefault("backend.user_email", "")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("database.url", "")

	v.SetDefault("cache.path", "./.agentflow/cache.db")
	v.SetDefault("autosave.window", "500ms")
	v.SetDefault("cors.origins", []string{"http://localhost:3003"})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./.agentflow")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("AGENTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
