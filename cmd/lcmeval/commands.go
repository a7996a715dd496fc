package main

import (
	"fmt"

	"lcmeval/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "lcmeval",
		Short: "Generate library-usage tasks and code covering combinations of APIs",
		Long: `lcmeval crawls API documentation into a catalog, then drives LLM agents
that write a task and a solution for every combination of k APIs until the
requested share of combinations is covered.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
	crawlCmd = &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the API reference into raw per-page JSON files",
		Args:  cobra.NoArgs,
		RunE:  runCrawl,
	}
	mergeCmd = &cobra.Command{
		Use:   "merge",
		Short: "Merge raw page files into the catalog CSV",
		Args:  cobra.NoArgs,
		RunE:  runMerge,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the generation pipeline until the target coverage or budget is reached",
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the coverage and generations HTTP API",
		Long:  `Starts the HTTP API over the catalog's combination universe. With --pipeline the generation pipeline runs in the same process.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	coverageCmd = &cobra.Command{
		Use:   "coverage",
		Short: "Print coverage of the catalog from the stored combinations",
		Args:  cobra.NoArgs,
		RunE:  runCoverage,
	}

	withPipeline  bool
	showUncovered int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("catalog", "", "catalog CSV path")
	rootCmd.PersistentFlags().Int("k", 0, "number of APIs per combination")
	rootCmd.PersistentFlags().Bool("database", false, "persist generations in postgres")
	bindFlag(rootCmd.PersistentFlags().Lookup("catalog"), "catalog.path")
	bindFlag(rootCmd.PersistentFlags().Lookup("k"), "coverage.k")
	bindFlag(rootCmd.PersistentFlags().Lookup("database"), "database.enabled")

	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().String("output", "", "directory for raw page files")
	crawlCmd.Flags().Int("skip", 0, "number of leading routine sections to skip")
	bindFlag(crawlCmd.Flags().Lookup("output"), "crawler.output_dir")
	bindFlag(crawlCmd.Flags().Lookup("skip"), "crawler.skip_sections")

	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().String("raw-dir", "", "directory holding raw page files")
	bindFlag(mergeCmd.Flags().Lookup("raw-dir"), "catalog.raw_dir")

	rootCmd.AddCommand(runCmd)
	addPipelineFlags(runCmd)

	rootCmd.AddCommand(serveCmd)
	addPipelineFlags(serveCmd)
	serveCmd.Flags().BoolVar(&withPipeline, "pipeline", false, "run the generation pipeline alongside the API")
	serveCmd.Flags().Int("port", 0, "HTTP port")
	bindFlag(serveCmd.Flags().Lookup("port"), "server.port")

	rootCmd.AddCommand(coverageCmd)
	coverageCmd.Flags().IntVar(&showUncovered, "uncovered", 0, "also list up to this many uncovered combinations")
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Int("workers", 0, "number of concurrent workers")
	cmd.Flags().Int("iterations", 0, "generation budget, 0 for unbounded")
	cmd.Flags().Float64("target", 0, "stop once this coverage ratio is reached")
	cmd.Flags().Int64("seed", 0, "sampling seed, 0 for time seeded")
	cmd.Flags().String("runs-dir", "", "directory for config dump, run log and completions")
	cmd.Flags().Bool("resume", false, "restore covered combinations from the store before running")
	cmd.Flags().Bool("evaluator", false, "refine tasks with the problem evaluator loop")
	cmd.Flags().String("mode", "", "task prompt mode: explicit or implicit")
	bindFlag(cmd.Flags().Lookup("workers"), "pipeline.workers")
	bindFlag(cmd.Flags().Lookup("iterations"), "pipeline.iterations")
	bindFlag(cmd.Flags().Lookup("target"), "pipeline.target_coverage")
	bindFlag(cmd.Flags().Lookup("seed"), "coverage.seed")
	bindFlag(cmd.Flags().Lookup("runs-dir"), "run.runs_dir")
	bindFlag(cmd.Flags().Lookup("resume"), "run.resume")
	bindFlag(cmd.Flags().Lookup("evaluator"), "agents.use_evaluator")
	bindFlag(cmd.Flags().Lookup("mode"), "agents.mode")
}

// flagBinding defers a viper binding until the command that owns the flag
// runs, so flags sharing a key across commands do not overwrite each other.
type flagBinding struct {
	flag *pflag.Flag
	key  string
}

var bindings []flagBinding

func bindFlag(flag *pflag.Flag, key string) {
	bindings = append(bindings, flagBinding{flag: flag, key: key})
}

// loadConfig binds the flags of the executing command into viper and reads
// the configuration.
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	for _, b := range bindings {
		if cmd.Flags().Lookup(b.flag.Name) != b.flag {
			continue
		}
		if err := v.BindPFlag(b.key, b.flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", b.flag.Name, err)
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	loaded, err := config.LoadWith(v)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}
