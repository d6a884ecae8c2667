// Command imgsched is the CLI front end over the scheduling CORE:
// internal/validate, internal/partition, and internal/synth.
//
// Grounded on main.go's benchmark-directory batch loop (glob input
// files, process each, print a per-file summary, accumulate results)
// generalized into cobra subcommands, with the batch subcommand's
// per-file concurrency grounded on golang.org/x/sync/errgroup per the
// stack the rest of the corpus's CLI tools use for this.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imgsched/internal/cost/refmodel"
	"imgsched/internal/ioformat"
	"imgsched/internal/partition"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
	"imgsched/internal/synth"
	"imgsched/internal/validate"
)

var (
	flagParallelism int
	flagLLCBytes    int64
	flagBalance     float64
)

func main() {
	root := &cobra.Command{
		Use:   "imgsched",
		Short: "automatic loop-scheduler for staged image-processing pipelines",
	}
	root.PersistentFlags().IntVar(&flagParallelism, "parallelism", 0, "override arch.parallelism from the pipeline file")
	root.PersistentFlags().Int64Var(&flagLLCBytes, "llc-bytes", 0, "override arch.last_level_cache_bytes from the pipeline file")
	root.PersistentFlags().Float64Var(&flagBalance, "balance", 0, "override arch.balance from the pipeline file")

	root.AddCommand(validateCmd(), scheduleCmd(), batchCmd())

	if err := root.Execute(); err != nil {
		glog.Fatalf("imgsched: %v", err)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "check a pipeline file against the hard-reject preconditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			report, err := validate.Validate(in.Env, in.Outputs, in.Estimates)
			if err != nil {
				return err
			}
			if report.Degraded {
				fmt.Printf("valid, but would degrade to compute_root everywhere: missing estimates on %v\n", report.MissingEstimates)
				return nil
			}
			fmt.Println("valid")
			return nil
		},
	}
}

func scheduleCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "schedule FILE",
		Short: "compute and print a schedule for one pipeline file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			logText, err := runCore(in)
			if err != nil {
				return err
			}
			if jsonOut {
				sol := ioformat.BuildSolution(in.Env, logText)
				data, err := ioformat.Dump(sol)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(logText)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the structured JSON solution instead of the plain-text transcript")
	return cmd
}

func batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch DIR",
		Short: "schedule every *.json pipeline file in a directory concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := filepath.Glob(filepath.Join(args[0], "*.json"))
			if err != nil {
				return fmt.Errorf("imgsched: globbing %s: %w", args[0], err)
			}
			if len(files) == 0 {
				return fmt.Errorf("imgsched: no *.json files found in %s", args[0])
			}

			g, _ := errgroup.WithContext(context.Background())
			g.SetLimit(runtime.GOMAXPROCS(0))
			results := make([]string, len(files))
			for i, f := range files {
				i, f := i, f
				g.Go(func() error {
					in, err := loadPipeline(f)
					if err != nil {
						results[i] = fmt.Sprintf("%s: load error: %v", filepath.Base(f), err)
						return nil
					}
					logText, err := runCore(in)
					if err != nil {
						results[i] = fmt.Sprintf("%s: %v", filepath.Base(f), err)
						return nil
					}
					results[i] = fmt.Sprintf("%s: ok (%d schedule lines)", filepath.Base(f), len(splitLines(logText)))
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for _, r := range results {
				fmt.Println(r)
			}
			return nil
		},
	}
}

func loadPipeline(path string) (*ioformat.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imgsched: reading %s: %w", path, err)
	}
	in, err := ioformat.Load(data)
	if err != nil {
		return nil, err
	}
	if flagParallelism > 0 {
		in.Arch.Parallelism = flagParallelism
	}
	if flagLLCBytes > 0 {
		in.Arch.LastLevelCacheBytes = flagLLCBytes
	}
	if flagBalance > 0 {
		in.Arch.Balance = flagBalance
	}
	return in, nil
}

// runCore runs the full validate -> (degrade | partition + synthesize)
// pipeline and returns the emitted transcript.
func runCore(in *ioformat.Input) (string, error) {
	report, err := validate.Validate(in.Env, in.Outputs, in.Estimates)
	if err != nil {
		return "", err
	}
	if report.Degraded {
		return validate.DegradeToComputeRoot(in.Env), nil
	}

	graph := pipeline.BuildGraph(in.Env)
	model := refmodel.New(in.Env, in.Arch, nil)

	outputBounds := map[string]map[string]region.Interval{}
	for _, out := range in.Outputs {
		outputBounds[out] = in.Estimates[out]
	}

	p := partition.NewPartitioner(in.Env, graph, model, in.Arch, in.Outputs, outputBounds, in.Estimates)
	p.Run()

	return synth.Synthesize(in.Env, p.Groups(), p.RequiredBounds(), in.Arch, in.Target), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
