package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/surrogate/internal/optimization/acquisition"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/validation"
)

func newFitCmd(a *app) *cobra.Command {
	var (
		dataPath string
		outPath  string
		kernel   string
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a model and write its snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.readCSV(dataPath, false)
			if err != nil {
				return err
			}
			mc := a.cfg.Model
			if kernel != "" {
				mc.Kernel = kernel
			}
			gp, err := mc.NewGP(ds.Dim(), a.logger)
			if err != nil {
				return err
			}
			if err := gp.Fit(ds, nil); err != nil {
				return err
			}

			snap, err := gp.Export()
			if err != nil {
				return err
			}
			b, err := bayesian.MarshalSnapshot(snap)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, b, 0o644); err != nil {
				return errors.Wrapf(err, "writing %s", outPath)
			}

			lml, _ := gp.LogMarginalLikelihood()
			a.logger.Info("Model fitted",
				zap.String("kernel", snap.Kernel.Type),
				zap.Int("rows", ds.Len()),
				zap.String("out", outPath),
			)
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"kernel":                  snap.Kernel.Type,
				"rows":                    ds.Len(),
				"hyperparameters":         snap.Hyperparameters,
				"jitter":                  snap.Jitter,
				"log_marginal_likelihood": lml,
			})
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "training CSV (features..., label)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "model.json", "snapshot output path")
	cmd.Flags().StringVar(&kernel, "kernel", "", "kernel, overrides the configuration")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var modelPath, pointsPath string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict mean and variance at query points",
		RunE: func(cmd *cobra.Command, args []string) error {
			gp, err := a.loadModel(modelPath)
			if err != nil {
				return err
			}
			points, err := a.queryPoints(pointsPath)
			if err != nil {
				return err
			}
			predictions, err := gp.PredictPoints(points)
			if err != nil {
				return err
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			w.Write([]string{"mean", "variance", "std"})
			for _, p := range predictions {
				w.Write([]string{formatFloat(p.Mean), formatFloat(p.Variance), formatFloat(p.Std())})
			}
			w.Flush()
			return w.Error()
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "model.json", "model snapshot")
	cmd.Flags().StringVarP(&pointsPath, "points", "p", "", "query CSV (features only)")
	cmd.MarkFlagRequired("points")
	return cmd
}

func newRankCmd(a *app) *cobra.Command {
	var (
		modelPath, candidatesPath string
		strategy, direction       string
		k                         int
		kappa, xi, incumbent      float64
		seed                      int64
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidate points by an acquisition strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := a.cfg.Acquisition
			flags := cmd.Flags()
			if flags.Changed("strategy") {
				ac.Strategy = strategy
			}
			if flags.Changed("direction") {
				ac.Direction = direction
			}
			if flags.Changed("kappa") {
				ac.Kappa = kappa
			}
			if flags.Changed("xi") {
				ac.Xi = xi
			}
			if flags.Changed("seed") {
				ac.Seed = seed
			}
			rc, err := ac.RankerConfig()
			if err != nil {
				return err
			}
			if flags.Changed("incumbent") {
				rc.Incumbent = &incumbent
			}
			ranker, err := acquisition.NewRanker(rc)
			if err != nil {
				return err
			}

			gp, err := a.loadModel(modelPath)
			if err != nil {
				return err
			}
			candidates, err := a.queryPoints(candidatesPath)
			if err != nil {
				return err
			}
			ranking, err := bayesian.RankCandidates(gp, candidates, ranker, k)
			if err != nil {
				return err
			}
			return writeRanking(cmd.OutOrStdout(), ranking)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&modelPath, "model", "m", "model.json", "model snapshot")
	flags.StringVar(&candidatesPath, "candidates", "", "candidate CSV (features only)")
	flags.IntVarP(&k, "top", "k", 1, "number of candidates to select")
	flags.StringVar(&strategy, "strategy", "", "acquisition strategy")
	flags.StringVar(&direction, "direction", "", "minimize or maximize")
	flags.Float64Var(&kappa, "kappa", 0, "confidence bound weight")
	flags.Float64Var(&xi, "xi", 0, "improvement margin")
	flags.Float64Var(&incumbent, "incumbent", 0, "best value so far (default: best training label)")
	flags.Int64Var(&seed, "seed", 0, "Thompson sampling seed")
	cmd.MarkFlagRequired("candidates")
	return cmd
}

// writeRanking writes the selected candidates, best first.
func writeRanking(out io.Writer, r *bayesian.Ranking) error {
	w := csv.NewWriter(out)
	w.Write([]string{"rank", "index", "score", "mean", "std"})
	for rank, i := range r.Selected {
		p := r.Predictions[i]
		w.Write([]string{
			strconv.Itoa(rank + 1),
			strconv.Itoa(i),
			formatFloat(r.Scores[i]),
			formatFloat(p.Mean),
			formatFloat(p.Std()),
		})
	}
	w.Flush()
	return w.Error()
}

func newEvaluateCmd(a *app) *cobra.Command {
	var modelPath, dataPath string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a model on held-out data",
		RunE: func(cmd *cobra.Command, args []string) error {
			gp, err := a.loadModel(modelPath)
			if err != nil {
				return err
			}
			heldOut, err := a.readCSV(dataPath, false)
			if err != nil {
				return err
			}
			metrics, err := validation.Evaluate(gp, heldOut)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), metrics)
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "model.json", "model snapshot")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "held-out CSV (features..., label)")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newCurveCmd(a *app) *cobra.Command {
	var (
		trainPath, testPath, plotPath string
		sizes                         []int
	)
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Measure held-out error against training set size",
		RunE: func(cmd *cobra.Command, args []string) error {
			train, err := a.readCSV(trainPath, false)
			if err != nil {
				return err
			}
			heldOut, err := a.readCSV(testPath, false)
			if err != nil {
				return err
			}

			build := func(subset *dataset.Dataset) (validation.Predictor, error) {
				gp, err := a.cfg.Model.NewGP(subset.Dim(), a.logger)
				if err != nil {
					return nil, err
				}
				if err := gp.Fit(subset, nil); err != nil {
					return nil, err
				}
				return gp, nil
			}
			curve, err := validation.LearningCurve(train, sizes, heldOut, build)
			if err != nil {
				return err
			}
			if plotPath != "" {
				if err := curve.Plot(plotPath); err != nil {
					return err
				}
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			w.Write([]string{"size", "rmse", "mae", "nlpd", "coverage_95"})
			for _, m := range curve.Metrics {
				w.Write([]string{
					strconv.Itoa(m.Size),
					formatFloat(m.RMSE),
					formatFloat(m.MAE),
					formatFloat(m.NLPD),
					formatFloat(m.Coverage95),
				})
			}
			w.Flush()
			return w.Error()
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&trainPath, "train", "", "training CSV, rows used in file order")
	flags.StringVar(&testPath, "test", "", "held-out CSV")
	flags.IntSliceVar(&sizes, "sizes", nil, "strictly increasing training set sizes")
	flags.StringVar(&plotPath, "plot", "", "write the curve as an image (png, svg, pdf)")
	cmd.MarkFlagRequired("train")
	cmd.MarkFlagRequired("test")
	cmd.MarkFlagRequired("sizes")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
