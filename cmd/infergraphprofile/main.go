// Command infergraphprofile loads a graph, runs it once under Profile with
// zero-filled inputs, and reports per-node timings plus peak planned
// memory, similar in spirit to a microbenchmark harness but driven by the
// session facade rather than raw kernels. Of the shared configuration flags
// it applies --config and --providers; --opt-level, --scheduler and
// --workers are accepted but have no effect, and Profile always runs in
// topological order.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbl8/infergraph/cmd/cliflags"
	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/session"
	"github.com/sbl8/infergraph/tensor"
)

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errs.KindOf(err) {
	case errs.InvalidModel, errs.InvalidArgument:
		return 1
	case errs.NotFound, errs.NotImplemented:
		return 2
	default:
		return 3
	}
}

func main() {
	root := &cobra.Command{
		Use:           "infergraphprofile <model.igraph>",
		Short:         "Profile one execution of a graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cliflags.Register(root.Flags())

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg := session.DefaultConfig()
		if flags.ConfigPath != "" {
			loaded, err := session.LoadConfigFile(flags.ConfigPath)
			if err != nil {
				return err
			}
			cfg = *loaded
		}
		if len(flags.Providers) > 0 {
			cfg.ExecutionProviders = flags.Providers
		}
		cfg.EnableProfiling = true

		s := session.New(cfg)
		if err := s.LoadModel(args[0]); err != nil {
			return err
		}

		names, err := s.InputNames()
		if err != nil {
			return err
		}
		inputs := make([]tensor.Tensor, len(names))
		for i := range names {
			t, err := s.CreateInputTensor(i)
			if err != nil {
				return err
			}
			if err := t.FillZero(); err != nil {
				return err
			}
			inputs[i] = t
		}

		outNames, err := s.OutputNames()
		if err != nil {
			return err
		}
		outputs := make([]tensor.Tensor, len(outNames))
		for i := range outNames {
			t, err := s.GetOutputTensor(i)
			if err != nil {
				return err
			}
			outputs[i] = t
		}

		result, err := s.Profile(inputs, outputs)
		if err != nil {
			return err
		}

		fmt.Printf("run %s\n", result.RunID)
		fmt.Printf("%-24s %-16s %s\n", "NODE", "OP", "DURATION")
		for _, timing := range result.Timings {
			fmt.Printf("%-24s %-16s %s\n", timing.NodeName, timing.OpType, timing.Duration)
		}
		fmt.Printf("total: %s, peak bytes: %d\n", result.Total, result.PeakBytes)
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "infergraphprofile:", err)
		os.Exit(exitCode(err))
	}
}
