package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/surrogate/internal/config"
	"github.com/copyleftdev/surrogate/internal/logging"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// app is the state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool
	header     bool
	idColumn   bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "gpctl",
		Short: "Gaussian process surrogate models over CSV data",
		Long: `gpctl fits Gaussian process regression models on CSV files of the form
f1,...,fD,label and uses the fitted models to predict, rank candidates
and measure learning curves.

Examples:
  gpctl fit --data train.csv --out model.json
  gpctl predict --model model.json --points query.csv
  gpctl rank --model model.json --candidates pool.csv -k 5 --strategy ei
  gpctl curve --train train.csv --test test.csv --sizes 10,20,40 --plot curve.png`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log numerical diagnostics")
	flags.BoolVar(&a.header, "header", false, "CSV files start with a header row")
	flags.BoolVar(&a.idColumn, "id-column", false, "first CSV column is the row id")

	root.AddCommand(
		newFitCmd(a),
		newPredictCmd(a),
		newRankCmd(a),
		newEvaluateCmd(a),
		newCurveCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	// stdout carries command output.
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) readCSV(path string, unlabeled bool) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dataset.ReadCSV(f, dataset.CSVOptions{
		Header:    a.header,
		IDColumn:  a.idColumn,
		Unlabeled: unlabeled,
	})
}

func (a *app) loadModel(path string) (*bayesian.GP, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := bayesian.UnmarshalSnapshot(b)
	if err != nil {
		return nil, err
	}
	return bayesian.Restore(snap, bayesian.WithLogger(a.logger))
}

// queryPoints reads an unlabeled CSV as feature vectors.
func (a *app) queryPoints(path string) ([]dataset.FeatureVector, error) {
	ds, err := a.readCSV(path, true)
	if err != nil {
		return nil, err
	}
	out := make([]dataset.FeatureVector, ds.Len())
	for i, r := range ds.Rows() {
		out[i] = r.Features
	}
	return out, nil
}
