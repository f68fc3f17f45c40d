// Command wasmgpu drives the translator end to end over JSON-described
// fixture modules: it translates each into a shader-IR module and prints a
// summary, the full IR dump, or a machine-readable digest. The real wasm
// binary parser and the GPU backend are separate layers; this command
// exists so the core is runnable and inspectable without either.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/log"
	"github.com/LucentFlux/wasm-gpu-go/translate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	flagWorkgroupSize uint32
	flagDumpIR        bool
	flagJSON          bool
	flagNoF64         bool
	flagVerbose       bool
)

func main() {
	root := &cobra.Command{
		Use:   "wasmgpu <fixture.json> [fixture.json...]",
		Short: "Translate wasm fixture modules into shader IR",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	root.Flags().Uint32Var(&flagWorkgroupSize, "workgroup-size", 64, "compute workgroup x dimension")
	root.Flags().BoolVar(&flagDumpIR, "dump-ir", false, "print the full IR dump for each module")
	root.Flags().BoolVar(&flagJSON, "json", false, "print a machine-readable digest for each module")
	root.Flags().BoolVar(&flagNoF64, "no-f64", false, "translate as if the host lacked f64 support")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// digest is the --json output shape per translated fixture.
type digest struct {
	Fixture     string   `json:"fixture"`
	Functions   int      `json:"functions"`
	EntryPoints []string `json:"entry_points"`
	Types       int      `json:"types"`
	Globals     int      `json:"globals"`
}

func run(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	if flagVerbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	log.SetLogger(logger)
	defer logger.Sync() //nolint:errcheck

	opts := translate.DefaultOptions()
	opts.WorkgroupSize = flagWorkgroupSize
	if flagNoF64 {
		opts.Capabilities.SupportF64 = false
	}

	// Each fixture is an independent translation with its own module and
	// arenas, so they can run concurrently; the first failure wins.
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	results := make([]*ir.Module, len(args))
	for i, path := range args {
		i, path := i, path
		g.Go(func() error {
			funcs, entries, err := loadFixture(path)
			if err != nil {
				return err
			}
			m, err := translate.Translate(funcs, entries, opts)
			if err != nil {
				var be *faults.BuildError
				if errors.As(err, &be) {
					logger.Warn("translation failed",
						zap.String("fixture", path),
						zap.Stringer("kind", be.Kind),
						zap.String("component", be.Component))
				}
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, m := range results {
		switch {
		case flagJSON:
			names := make([]string, len(m.EntryPoints))
			for j, ep := range m.EntryPoints {
				names[j] = ep.Name
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(digest{
				Fixture:     args[i],
				Functions:   len(m.Functions),
				EntryPoints: names,
				Types:       m.Types.Len(),
				Globals:     len(m.Globals),
			}); err != nil {
				return err
			}
		case flagDumpIR:
			fmt.Fprintf(cmd.OutOrStdout(), "== %s\n%s", args[i], m.Format())
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d functions, %d entry points\n",
				args[i], len(m.Functions), len(m.EntryPoints))
		}
	}
	return nil
}
