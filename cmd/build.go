package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/site"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Runs one generation: content, schema, product and category pages",
	Long: `The build command loads Markdown entries from the content directory,
compiles the content schema, queries every configured collection and creates
one page per record. The page set is written to the manifest file in the
output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := metrics.New()
		b, err := site.Run(cmd.Context(), appConfig, logger, m)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := m.WriteTextfile(appConfig.MetricsFile); err != nil {
			logger.Warn().Err(err).Str("file", appConfig.MetricsFile).Msg("could not write metrics")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
