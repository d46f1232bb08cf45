// Copyright ©2016 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg_test

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/vladimir-ch/pcg"
	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/gallery"
)

func L2Projector(x0, x1 float64, n int, f func(float64) float64) (a pcg.MatrixOps, b []float64) {
	h := (x1 - x0) / float64(n)

	matvec := func(dst, src []float64) {
		h := h
		dst[0] = h / 3 * (src[0] + src[1]/2)
		for i := 1; i < n; i++ {
			dst[i] = h / 3 * (src[i-1]/2 + 2*src[i] + src[i+1]/2)
		}
		dst[n] = h / 3 * (src[n-1]/2 + src[n])
	}

	b = make([]float64, n+1)
	b[0] = f(x0) * h / 2
	for i := 1; i < n; i++ {
		b[i] = f(x0+float64(i)*h) * h
	}
	b[n] = f(x1) * h / 2

	return pcg.MatrixOps{N: n + 1, MatVec: matvec}, b
}

func ExamplePCG() {
	A, b := L2Projector(0, 1, 10, func(x float64) float64 {
		return x * math.Sin(x)
	})
	res, err := pcg.LinearSolve(A, b, &pcg.PCG{}, pcg.DefaultSettings())
	if err != nil {
		fmt.Println("Error:", err)
	} else {
		fmt.Printf("# iterations: %v\n", res.Stats.Iterations)
		fmt.Printf("Solution: %.4f\n", res.X)
	}

	// Output:
	// # iterations: 11
	// Solution: [-0.0033 0.0067 0.0365 0.0856 0.1530 0.2371 0.3370 0.4476 0.5782 0.6827 0.9208]
}

func ExampleSolve() {
	// Solve the 2D Poisson problem on a 10×10 grid distributed over four
	// ranks.
	err := comm.Run(context.Background(), 4, func(c comm.Comm) error {
		a, err := gallery.Laplacian(c, 10, 10, 1, 1, 1, 0)
		if err != nil {
			return err
		}
		res, err := pcg.Solve(a, nil, gallery.Ones(a), nil, 1e-6, 100)
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			fmt.Printf("status: %v\n", res.Status)
			fmt.Printf("# iterations: %v\n", res.Stats.Iterations)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// Output:
	// status: converged
	// # iterations: 14
}
