package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/docker/go-units"

	"gocompile/pkg/config"
	"gocompile/pkg/diag"
	"gocompile/pkg/pipeline"
)

const testSource = `int x = 10;
int y = 20;
x = x + y * 2;
print(x);
`

// ccompiler runs every stage over one file (or a built-in sample) and
// prints each artifact in turn.
func main() {
	fs := flag.NewFlagSet("ccompiler", flag.ExitOnError)
	only := fs.String("artifact", "", "print only this artifact")
	export := fs.String("export", "", "also write a zip archive of every artifact to this path")
	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	src := testSource
	if fs.NArg() > 0 {
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}

	// artifacts are only kept in memory here
	store := pipeline.New(context.Background(), cfg.PipelineOptions(nil, nil))
	defer store.Close()
	store.SetSource(src)

	_, runErr := store.RunAll()
	if runErr != nil && !errors.Is(runErr, diag.ErrAllocation) && !errors.Is(runErr, diag.ErrSchedule) {
		fmt.Fprintln(os.Stderr, "pipeline error:", runErr)
		os.Exit(1)
	}

	for _, name := range pipeline.ArtifactNames() {
		if *only != "" && name != *only {
			continue
		}
		data, ok := store.Artifact(name)
		if !ok {
			fmt.Printf("== %s: not computed\n\n", name)
			continue
		}
		fmt.Printf("== %s (%s)\n%s\n\n", name, units.HumanSize(float64(len(data))), data)
	}

	ds := store.AllDiagnostics()
	for _, d := range ds {
		fmt.Fprintf(os.Stderr, "%s: %v\n", d.Stage, d)
	}

	if *export != "" {
		f, err := os.Create(*export)
		if err != nil {
			fmt.Fprintln(os.Stderr, "export error:", err)
			os.Exit(1)
		}
		if err := store.Export(f); err != nil {
			f.Close()
			fmt.Fprintln(os.Stderr, "export error:", err)
			os.Exit(1)
		}
		if err := f.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "export error:", err)
			os.Exit(1)
		}
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "stopped at", store.State()+1, "-", runErr)
		os.Exit(1)
	}
	if len(ds) > 0 {
		os.Exit(1)
	}
}
