package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/library"
	"github.com/robert-at-pretension-io/amc/internal/tech"
	"github.com/robert-at-pretension-io/amc/internal/validator"
)

// snapshot is the JSON document amc-lib writes and reads back for deltas.
type snapshot struct {
	Tech  string         `json:"tech,omitempty"`
	Hash  string         `json:"hash"`
	Cells []library.Cell `json:"cells"`
}

func main() {
	output := flag.String("output", "", "write snapshot JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write snapshot JSON to file (shorthand)")
	deltaFrom := flag.String("delta-from", "", "previous snapshot JSON to compute delta from")
	deltaOut := flag.String("delta-out", "", "write delta JSON to file (requires --delta-from)")
	flag.Parse()

	args := flag.Args()
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: amc-lib [--output file] [--delta-from prev.json --delta-out delta.json] [library-root]")
		os.Exit(1)
	}

	root := ""
	if len(args) == 1 {
		root = args[0]
	}
	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if root == "" && cfg.Home == "" {
		fmt.Fprintf(os.Stderr, "Error: %v: %s\n", tech.ErrMissingEnv, tech.EnvHome)
		os.Exit(1)
	}

	lib, _, err := library.Load(context.Background(), cfg, root, library.LoadOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	snap := snapshot{Tech: cfg.Tech, Hash: lib.Hash(), Cells: lib.Snapshot()}

	v, err := validator.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := v.ValidateLibrary(snap); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := library.WriteJSONAtomic(*output, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
			os.Exit(1)
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding snapshot: %v\n", err)
			os.Exit(1)
		}
	}

	if *deltaFrom != "" || *deltaOut != "" {
		if *deltaFrom == "" || *deltaOut == "" {
			fmt.Fprintln(os.Stderr, "Error: --delta-from and --delta-out must be used together")
			os.Exit(1)
		}
		prev, err := readSnapshot(*deltaFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading delta-from: %v\n", err)
			os.Exit(1)
		}
		delta := library.ComputeDelta(prev.Cells, snap.Cells)
		if err := library.WriteJSONAtomic(*deltaOut, delta); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing delta: %v\n", err)
			os.Exit(1)
		}
	}
}

func readSnapshot(path string) (snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return snapshot{}, err
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}
