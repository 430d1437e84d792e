package internal

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/goplus/dlibsys/internal/config"
	"github.com/goplus/dlibsys/internal/env"
	"github.com/goplus/dlibsys/internal/pipeline"
)

var (
	toggles config.Flags
	rootDir string
	verbose bool

	log hclog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dlibsys",
	Short: "dlibsys provisions dlib for linking",
	Long: `dlibsys compiles the vendored dlib sources (or selects the system dlib),
fetches the optional face models into files/, and prints the link directives.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = newLogger(cmd.ErrOrStderr(), verbose)
	},
	RunE: runProvision,
}

func init() {
	toggles.Register(rootCmd.Flags())
	rootCmd.Flags().StringVarP(&rootDir, "root", "C", "", "Project root (default: current directory)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func runProvision(cmd *cobra.Command, args []string) error {
	paths, err := env.Resolve(rootDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(paths.Root, os.LookupEnv, &toggles)
	if err != nil {
		return err
	}
	atomic, err := config.AtomicFetch(os.LookupEnv)
	if err != nil {
		return err
	}

	_, err = pipeline.Run(context.Background(), cfg, paths, pipeline.Options{
		Logger:      log,
		AtomicFetch: atomic,
		Output:      cmd.OutOrStdout(),
	})
	return err
}

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	log = newLogger(os.Stderr, false)
	if err := rootCmd.Execute(); err != nil {
		log.Error("provisioning failed", "stage", stageOf(err), "error", err)
		os.Exit(1)
	}
}
