// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pcgsolve assembles a model problem or reads a Matrix Market
// matrix, distributes it over a number of in-process ranks and solves it
// with the preconditioned conjugate gradient method or BiCGSTAB.
//
// Usage:
//  pcgsolve [flags]
//
// Flags can also be given in a TOML file with --config, keyed by their long
// names. Flags set on the command line take precedence over the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/vladimir-ch/pcg"
	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/gallery"
	"github.com/vladimir-ch/pcg/precond"
	"github.com/vladimir-ch/pcg/sparse"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := defaultConfig()
	var configPath string
	cmd := &cobra.Command{
		Use:          "pcgsolve",
		Short:        "Solve a distributed sparse linear system",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultConfig()
			if configPath != "" {
				if err := cfg.load(configPath); err != nil {
					return err
				}
			}
			cfg.override(cmd.Flags(), &flags)
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), &cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	flags.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&configPath, "config", "", "TOML configuration `file`")
	return cmd
}

// input is the data shared read-only by all ranks.
type input struct {
	market *sparse.Market
	rhs    []float64
}

func readInput(cfg *config) (input, error) {
	var in input
	if cfg.Problem == "file" {
		f, err := os.Open(cfg.File)
		if err != nil {
			return in, err
		}
		defer f.Close()
		in.market, err = sparse.ReadMarket(f)
		if err != nil {
			return in, fmt.Errorf("%s: %w", cfg.File, err)
		}
	}
	if cfg.RHS == "file" {
		f, err := os.Open(cfg.RHSFile)
		if err != nil {
			return in, err
		}
		defer f.Close()
		in.rhs, err = sparse.ReadMarketVector(f)
		if err != nil {
			return in, fmt.Errorf("%s: %w", cfg.RHSFile, err)
		}
	}
	return in, nil
}

func run(ctx context.Context, cfg *config, stdout, stderr io.Writer) error {
	in, err := readInput(cfg)
	if err != nil {
		return err
	}
	level, err := cfg.level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	return comm.Run(ctx, cfg.NP, func(c comm.Comm) error {
		a, err := assemble(c, cfg, in)
		if err != nil {
			return err
		}
		rows, _ := a.Dims()
		if in.rhs != nil && len(in.rhs) != rows {
			return fmt.Errorf("%w: right-hand side of length %d for %d rows", sparse.ErrDimensionMismatch, len(in.rhs), rows)
		}
		nnz, err := comm.SumFloat64(c, float64(a.NNZ()))
		if err != nil {
			return err
		}

		var p pcg.Preconditioner
		switch cfg.Precond {
		case "jacobi":
			p, err = precond.NewJacobi(a)
		case "blockjacobi":
			p, err = precond.NewBlockJacobi(a)
		}
		if err != nil {
			return fmt.Errorf("rank %d: %w", c.Rank(), err)
		}

		var method pcg.Method
		switch cfg.Solver {
		case "bicgstab":
			method = &pcg.BiCGSTAB{}
		case "gmres":
			method = &pcg.GMRES{Restart: cfg.Restart}
		default:
			method = &pcg.PCG{}
		}
		settings := pcg.Settings{
			Tolerance:       cfg.Tol,
			MaxIterations:   cfg.MaxIter,
			Preconditioner:  p,
			StallIterations: cfg.StallIter,
			StallRatio:      cfg.StallRatio,
			TrueResidual:    true,
			History:         cfg.History,
			Logger:          logger,
		}
		b, err := rhs(a, cfg, in)
		if err != nil {
			return err
		}
		res, err := pcg.LinearSolve(a, b, method, settings)
		if err != nil && !errors.Is(err, pcg.ErrNotConverged) {
			return err
		}
		// All ranks agree on err, so they all take part in the error
		// norm.
		errNorm := math.NaN()
		if cfg.RHS == "xisone" {
			var nerr error
			errNorm, nerr = solutionError(c, res.X, rows)
			if nerr != nil {
				return nerr
			}
		}
		if c.Rank() == comm.Root {
			report(stdout, cfg, rows, int(nnz), res, errNorm)
		}
		return err
	})
}

func assemble(c comm.Comm, cfg *config, in input) (*sparse.CSR, error) {
	if cfg.Problem == "file" {
		return in.market.Distribute(c), nil
	}
	nx, ny, nz, err := cfg.grid()
	if err != nil {
		return nil, err
	}
	k, err := coefficients("c", cfg.C)
	if err != nil {
		return nil, err
	}
	switch cfg.Problem {
	case "laplacian":
		return gallery.Laplacian(c, nx, ny, nz, k[0], k[1], k[2])
	case "9pt":
		return gallery.Laplacian9pt(c, nx, ny)
	case "27pt":
		return gallery.Laplacian27pt(c, nx, ny, nz)
	case "diffconv":
		v, err := coefficients("a", cfg.A)
		if err != nil {
			return nil, err
		}
		return gallery.DiffConv(c, nx, ny, nz, k[0], k[1], k[2], v[0], v[1], v[2])
	}
	return nil, fmt.Errorf("unknown problem %q", cfg.Problem)
}

func rhs(a *sparse.CSR, cfg *config, in input) ([]float64, error) {
	switch cfg.RHS {
	case "rand":
		return gallery.Random(a, cfg.Seed), nil
	case "xisone":
		return gallery.OnesImage(a)
	case "file":
		begin, end := a.RowRange()
		return append([]float64(nil), in.rhs[begin:end+1]...), nil
	}
	return gallery.Ones(a), nil
}

// solutionError returns the relative 2-norm of x - 1 over all ranks.
func solutionError(c comm.Comm, x []float64, rows int) (float64, error) {
	var sum float64
	for _, v := range x {
		sum += (v - 1) * (v - 1)
	}
	sum, err := comm.SumFloat64(c, sum)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(sum / float64(rows)), nil
}

// report prints the outcome of a solve. errNorm is printed unless it is
// NaN.
func report(w io.Writer, cfg *config, rows, nnz int, res pcg.Result, errNorm float64) {
	fmt.Fprintf(w, "problem: %s rows: %d nonzeros: %d ranks: %d\n", cfg.Problem, rows, nnz, cfg.NP)
	fmt.Fprintf(w, "solver: %s preconditioner: %s\n", cfg.Solver, cfg.Precond)
	fmt.Fprintf(w, "status: %v\n", res.Status)
	fmt.Fprintf(w, "iterations: %d\n", res.Stats.Iterations)
	fmt.Fprintf(w, "relative residual: %.6e\n", res.Stats.ResidualNorm)
	fmt.Fprintf(w, "recomputed relative residual: %.6e\n", res.Stats.TrueResidualNorm)
	if !math.IsNaN(errNorm) {
		fmt.Fprintf(w, "relative error: %.6e\n", errNorm)
	}
	fmt.Fprintf(w, "time: %v\n", res.Stats.Runtime)
	for i, h := range res.Stats.History {
		fmt.Fprintf(w, "%5d %.6e\n", i+1, h)
	}
}
