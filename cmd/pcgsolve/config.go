// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/vladimir-ch/pcg"
)

// config holds everything needed to set up and solve a problem. It can be
// read from a TOML file whose keys are the long flag names.
type config struct {
	Problem string    `toml:"problem"`
	N       []int     `toml:"n"`
	C       []float64 `toml:"c"`
	A       []float64 `toml:"a"`
	File    string    `toml:"file"`
	RHSFile string    `toml:"rhs-file"`

	NP         int     `toml:"np"`
	Solver     string  `toml:"solver"`
	Restart    int     `toml:"restart"`
	Precond    string  `toml:"precond"`
	Tol        float64 `toml:"tol"`
	MaxIter    int     `toml:"max-iter"`
	StallIter  int     `toml:"stall-iter"`
	StallRatio float64 `toml:"stall-ratio"`
	RHS        string  `toml:"rhs"`
	Seed       uint64  `toml:"seed"`

	LogLevel string `toml:"log-level"`
	History  bool   `toml:"history"`
}

func defaultConfig() config {
	return config{
		Problem:    "laplacian",
		N:          []int{10, 10, 10},
		C:          []float64{1, 1, 1},
		A:          []float64{0, 0, 0},
		NP:         1,
		Solver:     "pcg",
		Restart:    pcg.DefaultRestart,
		Precond:    "none",
		Tol:        1e-8,
		MaxIter:    1000,
		StallIter:  500,
		StallRatio: 0.01,
		RHS:        "ones",
		Seed:       1,
		LogLevel:   "info",
	}
}

// addFlags registers the flags of c on fs with the current values of c as
// defaults.
func (c *config) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Problem, "problem", c.Problem, "problem: laplacian, 9pt, 27pt, diffconv or file")
	fs.IntSliceVar(&c.N, "n", c.N, "grid size nx,ny,nz")
	fs.Float64SliceVar(&c.C, "c", c.C, "diffusion coefficients cx,cy,cz")
	fs.Float64SliceVar(&c.A, "a", c.A, "convection coefficients ax,ay,az")
	fs.StringVar(&c.File, "file", c.File, "Matrix Market `file` of the matrix for --problem=file")
	fs.StringVar(&c.RHSFile, "rhs-file", c.RHSFile, "Matrix Market `file` of the right-hand side for --rhs=file")

	fs.IntVar(&c.NP, "np", c.NP, "number of ranks")
	fs.StringVar(&c.Solver, "solver", c.Solver, "solver: pcg, bicgstab or gmres")
	fs.IntVar(&c.Restart, "restart", c.Restart, "restart cycle length of gmres")
	fs.StringVar(&c.Precond, "precond", c.Precond, "preconditioner: none, jacobi or blockjacobi")
	fs.Float64Var(&c.Tol, "tol", c.Tol, "relative residual tolerance")
	fs.IntVar(&c.MaxIter, "max-iter", c.MaxIter, "iteration limit")
	fs.IntVar(&c.StallIter, "stall-iter", c.StallIter, "iterations before the stall guard applies, 0 disables it")
	fs.Float64Var(&c.StallRatio, "stall-ratio", c.StallRatio, "squared relative residual the stall guard requires")
	fs.StringVar(&c.RHS, "rhs", c.RHS, "right-hand side: ones, rand, xisone or file")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "seed of --rhs=rand")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&c.History, "history", c.History, "print the residual history")
}

// override copies into c the fields of src whose flags were set on the
// command line.
func (c *config) override(fs *pflag.FlagSet, src *config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "problem":
			c.Problem = src.Problem
		case "n":
			c.N = src.N
		case "c":
			c.C = src.C
		case "a":
			c.A = src.A
		case "file":
			c.File = src.File
		case "rhs-file":
			c.RHSFile = src.RHSFile
		case "np":
			c.NP = src.NP
		case "solver":
			c.Solver = src.Solver
		case "restart":
			c.Restart = src.Restart
		case "precond":
			c.Precond = src.Precond
		case "tol":
			c.Tol = src.Tol
		case "max-iter":
			c.MaxIter = src.MaxIter
		case "stall-iter":
			c.StallIter = src.StallIter
		case "stall-ratio":
			c.StallRatio = src.StallRatio
		case "rhs":
			c.RHS = src.RHS
		case "seed":
			c.Seed = src.Seed
		case "log-level":
			c.LogLevel = src.LogLevel
		case "history":
			c.History = src.History
		}
	})
}

// load decodes the TOML file at path on top of c. Unknown keys are
// an error.
func (c *config) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// grid returns the grid extents, padding missing ones with 1.
func (c *config) grid() (nx, ny, nz int, err error) {
	if len(c.N) == 0 || len(c.N) > 3 {
		return 0, 0, 0, fmt.Errorf("--n needs 1 to 3 extents, got %d", len(c.N))
	}
	n := [3]int{1, 1, 1}
	copy(n[:], c.N)
	return n[0], n[1], n[2], nil
}

func coefficients(name string, v []float64) ([3]float64, error) {
	var k [3]float64
	if len(v) != 3 {
		return k, fmt.Errorf("--%s needs 3 coefficients, got %d", name, len(v))
	}
	copy(k[:], v)
	return k, nil
}

func (c *config) validate() error {
	if c.NP <= 0 {
		return fmt.Errorf("--np must be positive, got %d", c.NP)
	}
	if c.Tol < 0 {
		return fmt.Errorf("--tol must not be negative, got %v", c.Tol)
	}
	if c.MaxIter < 0 {
		return fmt.Errorf("--max-iter must not be negative, got %d", c.MaxIter)
	}
	switch c.Solver {
	case "pcg", "bicgstab", "gmres":
	default:
		return fmt.Errorf("unknown solver %q", c.Solver)
	}
	if c.Restart <= 0 {
		return fmt.Errorf("--restart must be positive, got %d", c.Restart)
	}
	switch c.Precond {
	case "none", "jacobi", "blockjacobi":
	default:
		return fmt.Errorf("unknown preconditioner %q", c.Precond)
	}
	switch c.RHS {
	case "ones", "rand", "xisone":
	case "file":
		if c.RHSFile == "" {
			return errors.New("--rhs=file needs --rhs-file")
		}
	default:
		return fmt.Errorf("unknown right-hand side %q", c.RHS)
	}
	switch c.Problem {
	case "laplacian", "9pt", "27pt", "diffconv":
		if _, _, _, err := c.grid(); err != nil {
			return err
		}
		if _, err := coefficients("c", c.C); err != nil {
			return err
		}
		if _, err := coefficients("a", c.A); err != nil {
			return err
		}
	case "file":
		if c.File == "" {
			return errors.New("--problem=file needs --file")
		}
	default:
		return fmt.Errorf("unknown problem %q", c.Problem)
	}
	_, err := c.level()
	return err
}

func (c *config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("--log-level: %w", err)
	}
	return l, nil
}
