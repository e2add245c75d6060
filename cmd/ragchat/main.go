package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ragchat_cmds "github.com/go-go-golems/ragchat/cmd/ragchat/cmds"
	"github.com/go-go-golems/ragchat/pkg/redisstream"
)

const defaultConfigPath = "~/.ragchat/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "ragchat talks to a retrieval-augmented chat backend from the terminal",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfigFile(viper.GetViper()); err != nil {
			return err
		}
		initLogger(viper.GetString("log-level"), viper.GetString("log-format"))
		return nil
	},
	SilenceUsage: true,
}

func main() {
	if err := initRootCmd(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initRootCmd() error {
	fs := rootCmd.PersistentFlags()
	fs.String("config", defaultConfigPath, "Config file (yaml)")
	fs.String("base-url", "http://localhost:8080", "Chat backend base URL")
	fs.String("credentials", "~/.ragchat/credentials.yaml", "Where the session token is kept")
	fs.String("cache-db", "~/.ragchat/cache.db", "SQLite file mirroring conversations and transcripts (empty disables)")
	fs.String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", "auto", "Log format (auto, console, json)")
	redisstream.AddFlags(fs)

	v := viper.GetViper()
	if err := v.BindPFlags(fs); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	v.SetEnvPrefix("RAGCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		ragchat_cmds.NewLoginCommand(v),
		ragchat_cmds.NewRegisterCommand(v),
		ragchat_cmds.NewLogoutCommand(v),
		ragchat_cmds.NewMeCommand(v),
		ragchat_cmds.NewConversationsCommand(v),
		ragchat_cmds.NewHistoryCommand(v),
		ragchat_cmds.NewChatCommand(v),
	)
	return nil
}

// loadConfigFile reads the yaml config when it exists. A missing default file is fine; a
// missing explicitly named one is not.
func loadConfigFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return errors.Wrapf(err, "expand %s", path)
	}
	if _, err := os.Stat(expanded); err != nil {
		if os.IsNotExist(err) && path == defaultConfigPath {
			return nil
		}
		return errors.Wrapf(err, "config file %s", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", expanded)
	}
	return nil
}

func initLogger(level, format string) {
	zerolog.SetGlobalLevel(parseZerologLevel(level))
	useConsole := format == "console" || (format != "json" && isatty.IsTerminal(os.Stderr.Fd()))
	if useConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseZerologLevel converts a string level into zerolog.Level with a safe default
func parseZerologLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	case "warn", "warning":
		fallthrough
	default:
		return zerolog.WarnLevel
	}
}
