package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gravfit/adapters/store"
	"gravfit/app"
	"gravfit/internal"
	"gravfit/internal/config"
	"gravfit/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:   "gravfit",
		Short: "Curve fitting and repeated-measures ANOVA for parabolic-flight trial data",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			for _, f := range envFiles {
				// values already in the environment win over the file
				if err := godotenv.Load(f); err != nil {
					fmt.Fprintf(os.Stderr, "No %s file found, using system environment variables\n", f)
				}
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", []string{"analysis_config.env"}, "Environment files to load before reading configuration")

	rootCmd.AddCommand(
		newRunCmd(),
		newCleanCmd(),
		newStageCmd("fit", "Fit every configured model and write fitted parameters"),
		newStageCmd("gof", "Score written fitted parameters (R², RMSE)"),
		newStageCmd("anova", "Run repeated-measures ANOVA on written fitted parameters"),
		newModelsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis for every dependent variable",
		Long: `Run descriptives, curve fitting, goodness of fit and ANOVA for each DEP_VARS entry.

Results go to RESULTS_DIR/<dependent variable>/ and a run manifest is written to
RESULTS_DIR/run_manifest.json. When RESULTS_DB_DRIVER is set, tables are also stored in
that database.

Example: gravfit run --env analysis_config.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			var results app.ResultStore
			if cfg.Store.Driver != "" {
				st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				results = st
			}

			p, err := app.NewPipeline(cfg, results, logger)
			if err != nil {
				return err
			}
			m, err := p.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Run %s complete: %d outputs in %s\n", m.RunID, len(m.Outputs), cfg.Paths.ResultsDir)
			return nil
		},
	}
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Combine raw per-flight files into the cleaned datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := app.NewPipeline(cfg, nil, logger)
			if err != nil {
				return err
			}
			paths, err := p.Clean(cmd.Context())
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Println(path)
			}
			return nil
		},
	}
}

// newStageCmd builds fit, gof and anova; each takes dependent variables or defaults to DEP_VARS
func newStageCmd(stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   stage + " [dep-var...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := app.NewPipeline(cfg, nil, logger)
			if err != nil {
				return err
			}

			depVars := args
			if len(depVars) == 0 {
				depVars = cfg.Analysis.DepVars
			}
			for _, dv := range depVars {
				var paths []string
				switch stage {
				case "fit":
					path, err := p.FitStage(ctx, dv)
					if err != nil {
						return err
					}
					paths = append(paths, path)
				case "gof":
					path, err := p.GOFStage(ctx, dv)
					if err != nil {
						return err
					}
					paths = append(paths, path)
				case "anova":
					paths, err = p.AnovaStage(ctx, dv)
					if err != nil {
						return err
					}
				}
				for _, path := range paths {
					fmt.Println(path)
				}
			}
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the registered curve models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := models.NewRegistry()
			for _, name := range registry.Names() {
				m, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Printf("%-10s %d parameters\n", m.Name, m.Arity)
			}
			return nil
		},
	}
}

func loadConfig() (*config.Config, *internal.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel), os.Stderr)
	logger.Debug("configuration loaded: x=%s dep_vars=%v models=%v", cfg.Analysis.XVar, cfg.Analysis.DepVars, cfg.Analysis.CurveFunctions)
	return cfg, logger, nil
}
