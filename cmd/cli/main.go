package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"ecosim/adapters/artifact"
	catalogueyaml "ecosim/adapters/catalogue"
	"ecosim/adapters/excel"
	"ecosim/app"
	"ecosim/internal"
	"ecosim/internal/config"
	"ecosim/internal/estimator"
	"ecosim/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// cliEnv holds what every subcommand needs after startup
type cliEnv struct {
	config *config.Config
	logger *internal.Logger
}

func main() {
	rt := &cliEnv{}

	rootCmd := &cobra.Command{
		Use:           "ecosim",
		Short:         "Environmental causal simulation over a tiered Bayesian network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file found, using system environment variables")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rt.config = cfg
			rt.logger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
			return nil
		},
	}

	rootCmd.AddCommand(
		newTrainCmd(rt),
		newSimulateCmd(rt),
		newImportanceCmd(rt),
		newEvaluateCmd(rt),
		newInfoCmd(rt),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTrainCmd(rt *cliEnv) *cobra.Command {
	var tablePath, cataloguePath string
	var ess float64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit transforms and CPTs from the training table and save the model",
		Long: `Train reads the joined county table and the variable catalogue, fits a
transform per network variable, estimates BDeu CPTs and writes the model
artifacts to ECOSIM_MODEL_DIR.

Example: ecosim train --table ces_joined.xlsx --catalogue catalogue.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tablePath == "" {
				tablePath = rt.config.Paths.TrainingTable
			}
			if cataloguePath == "" {
				cataloguePath = rt.config.Paths.Catalogue
			}
			if tablePath == "" || cataloguePath == "" {
				return fmt.Errorf("--table and --catalogue (or ECOSIM_TRAINING_TABLE and ECOSIM_CATALOGUE) are required")
			}
			if !cmd.Flags().Changed("ess") {
				ess = rt.config.Training.EquivalentSampleSize
			}

			svc := app.NewTrainingService(
				excel.NewDataReader(excel.ReaderConfig{Sheet: rt.config.Paths.Sheet}, rt.logger),
				catalogueyaml.NewLoader(rt.logger),
				artifact.NewStore(rt.config.Paths.ModelDir, rt.logger),
				rt.logger,
			)
			report, err := svc.Train(cmd.Context(), app.TrainingRequest{
				TableSource:     tablePath,
				CatalogueSource: cataloguePath,
				Options:         estimator.Options{EquivalentSampleSize: ess},
			})
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().StringVar(&tablePath, "table", "", "Training table (.xlsx or .csv)")
	cmd.Flags().StringVar(&cataloguePath, "catalogue", "", "Variable catalogue (.yaml)")
	cmd.Flags().Float64Var(&ess, "ess", estimator.DefaultEquivalentSampleSize, "BDeu equivalent sample size")
	return cmd
}

func newSimulateCmd(rt *cliEnv) *cobra.Command {
	var deltas []string
	var steps int
	var metricsFile string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Predict impacts for changes to pressure and state variables",
		Long: `Simulate applies each delta to the baseline, clamps it to the indicator
scale and predicts every impact variable. Variables may be named by ID or
by source column.

Example: ecosim simulate --delta PollutionBurdenScore=-20 --delta Traffic=-15 --steps 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseDeltas(deltas)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			sim, err := rt.simulation(cmd.Context(), metrics.NewSimulationMetrics(reg))
			if err != nil {
				return err
			}

			var out interface{}
			if steps > 0 {
				out, err = sim.SimulateSteps(cmd.Context(), parsed, steps)
			} else {
				out, err = sim.Simulate(cmd.Context(), parsed)
			}
			if err != nil {
				return err
			}

			if metricsFile != "" {
				if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
					rt.logger.Warn("failed to write metrics to %s: %v", metricsFile, err)
				}
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringArrayVar(&deltas, "delta", nil, "Change as variable=amount; repeatable")
	cmd.Flags().IntVar(&steps, "steps", 0, "Apply the deltas in this many equal increments and print every step")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write simulation metrics in Prometheus text format")
	return cmd
}

func newImportanceCmd(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "importance",
		Short: "Print the out-degree of every network variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := rt.simulation(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return printJSON(sim.FeatureImportance())
		},
	}
}

// evaluationCases is the optional --cases file
type evaluationCases struct {
	Cases     []app.ConsistencyCase `yaml:"cases"`
	Scenarios []map[string]float64  `yaml:"scenarios"`
}

func newEvaluateCmd(rt *cliEnv) *cobra.Command {
	var tablePath, casesPath string
	var folds, samples int
	var seed int64
	var sigma float64

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Cross-validate the model and check causal directions and noise sensitivity",
		Long: `Evaluate runs k-fold cross-validation over the training table. With
--cases it also checks expected impact directions and, for the file's
scenarios, the spread of predictions under Gaussian noise on the deltas.

Example: ecosim evaluate --folds 5 --seed 42 --cases cases.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if tablePath == "" {
				tablePath = rt.config.Paths.TrainingTable
			}
			if tablePath == "" {
				return fmt.Errorf("--table (or ECOSIM_TRAINING_TABLE) is required")
			}

			sim, err := rt.simulation(ctx, nil)
			if err != nil {
				return err
			}
			table, err := excel.NewDataReader(excel.ReaderConfig{Sheet: rt.config.Paths.Sheet}, rt.logger).ReadTable(ctx, tablePath)
			if err != nil {
				return err
			}
			eval := app.NewEvaluationService(sim, rt.config.Training.EquivalentSampleSize, rt.logger)

			out := map[string]interface{}{}
			accuracy, err := eval.PredictiveAccuracy(ctx, table, folds, seed)
			if err != nil {
				return err
			}
			out["accuracy"] = accuracy

			if casesPath != "" {
				data, err := os.ReadFile(casesPath)
				if err != nil {
					return fmt.Errorf("read %s: %w", casesPath, err)
				}
				var ec evaluationCases
				if err := yaml.Unmarshal(data, &ec); err != nil {
					return fmt.Errorf("unmarshal %s: %w", casesPath, err)
				}
				if len(ec.Cases) > 0 {
					if out["consistency"], err = eval.CausalConsistency(ctx, ec.Cases); err != nil {
						return err
					}
				}
				if len(ec.Scenarios) > 0 {
					if out["uncertainty"], err = eval.Uncertainty(ctx, ec.Scenarios, samples, sigma, seed); err != nil {
						return err
					}
				}
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&tablePath, "table", "", "Table to cross-validate on (defaults to the training table)")
	cmd.Flags().StringVar(&casesPath, "cases", "", "YAML file with consistency cases and uncertainty scenarios")
	cmd.Flags().IntVar(&folds, "folds", 5, "Number of cross-validation folds")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for fold assignment and noise")
	cmd.Flags().IntVar(&samples, "samples", 100, "Noisy simulations per uncertainty scenario")
	cmd.Flags().Float64Var(&sigma, "sigma", 2, "Standard deviation of the noise added to each delta")
	return cmd
}

func newInfoCmd(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the stored model version and artifact hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := artifact.NewStore(rt.config.Paths.ModelDir, rt.logger).Info(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

// simulation loads the stored model and wraps it in a simulation service
func (rt *cliEnv) simulation(ctx context.Context, m *metrics.SimulationMetrics) (*app.SimulationService, error) {
	mdl, err := artifact.NewStore(rt.config.Paths.ModelDir, rt.logger).Load(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := app.SimulationOptionsFromConfig(rt.config.Simulation)
	if err != nil {
		return nil, err
	}
	return app.NewSimulationService(mdl, opts, rt.logger, m)
}

func parseDeltas(raw []string) (map[string]float64, error) {
	deltas := make(map[string]float64, len(raw))
	for _, kv := range raw {
		// Split on the last '=' so column names containing '=' still work
		i := strings.LastIndex(kv, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid delta %q: want variable=amount", kv)
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(kv[i+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid delta %q: %w", kv, err)
		}
		deltas[strings.TrimSpace(kv[:i])] = amount
	}
	return deltas, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
