package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bitlatte/contentpages/internal/config"
	"github.com/Bitlatte/contentpages/internal/logging"
	"github.com/Bitlatte/contentpages/internal/routes"
)

var cfgFile string
var appConfig config.Config
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "contentpages",
	Short: "Static pages from Contentful-shaped content",
	Long: `contentpages loads content entries into a node store, compiles a
queryable schema over them, and creates one page per product and category.
The resulting page set is written as a manifest for the renderer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var qerr *routes.QueryError
		if errors.As(err, &qerr) {
			for _, e := range qerr.Errors {
				fmt.Fprintln(os.Stderr, "  -", e.Error())
			}
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("root", ".")
	v.SetDefault("contentDir", "content")
	v.SetDefault("outputDir", "public")
	v.SetDefault("manifestFile", "pages.yaml")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "console")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", ".cache/nodes.db")
	v.SetDefault("serve.port", 8000)

	v.SetEnvPrefix("SHIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func initializeConfig(_ *cobra.Command) error {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	fileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if cfgFile != "" {
			return fmt.Errorf("config file %s not found: %w", cfgFile, err)
		}
	} else {
		fileUsed = v.ConfigFileUsed()
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}
	appConfig = cfg.Resolved()

	logger = logging.New(os.Stderr, appConfig.LogLevel, appConfig.LogFormat)
	if fileUsed != "" {
		logger.Info().Str("file", fileUsed).Msg("using config file")
	} else {
		logger.Info().Msg("no config file found, using defaults and environment")
	}
	return nil
}
