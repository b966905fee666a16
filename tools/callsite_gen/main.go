// Command callsite_gen generates deterministic random call-shape
// descriptors for standalone benchmarking and interner stress tests
// outside `go test`. It emits newline-separated JSON objects
// ({"flags":["obj","int"],"names":["n1"]}).
//
// Usage:
//
//	go run ./tools/callsite_gen -n 100000 -max-arity 6 -named-pct 20 -seed 42 -out shapes.jsonl
//
// Flags:
//
//	-n          number of shapes to generate (default 100000)
//	-max-arity  maximum argument count (default 6, must be < 8: the interner
//	            never handles arity 8 or above)
//	-named-pct  percentage chance each argument gets a name (default 20)
//	-seed       RNG seed (default current time)
//	-out        output file (default stdout)
//
// The program is placed under version control so a contributor can
// regenerate the exact dataset used to reproduce an interning performance
// regression.
//
// © 2025 corevm authors. MIT License.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var flagNames = []string{"obj", "int", "num", "str"}

type shape struct {
	Flags []string `json:"flags"`
	Names []string `json:"names,omitempty"`
}

func main() {
	var (
		n        = flag.Int("n", 100_000, "number of shapes to generate")
		maxArity = flag.Int("max-arity", 6, "maximum argument count (< 8)")
		namedPct = flag.Int("named-pct", 20, "percent chance each argument gets a name")
		seedVal  = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath  = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *maxArity <= 0 || *maxArity >= 8 {
		fmt.Fprintln(os.Stderr, "max-arity must be in [1,7]")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()
	enc := json.NewEncoder(w)

	for i := 0; i < *n; i++ {
		arity := 1 + rnd.Intn(*maxArity)
		s := shape{Flags: make([]string, arity)}
		for j := range s.Flags {
			s.Flags[j] = flagNames[rnd.Intn(len(flagNames))]
			if rnd.Intn(100) < *namedPct {
				s.Names = append(s.Names, fmt.Sprintf("n%d", j))
			}
		}
		if err := enc.Encode(s); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(1)
		}
	}
}
