// Command infergraphrun loads a graph and executes it once against
// zero-filled input tensors, printing each output's values to stdout.
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

// exitCode maps the runtime's error taxonomy onto the documented exit
// codes: 1 load/validation, 2 unsupported op, 3 runtime kernel error.
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

func buildConfig(c *cliflags.Common) (session.Config, error) {
	cfg := session.DefaultConfig()
	if c.ConfigPath != "" {
		loaded, err := session.LoadConfigFile(c.ConfigPath)
		if err != nil {
			return session.Config{}, err
		}
		cfg = *loaded
	}
	if len(c.Providers) > 0 {
		cfg.ExecutionProviders = c.Providers
	}
	if c.OptLevel != "" {
		lvl, err := session.ParseOptimizationLevel(c.OptLevel)
		if err != nil {
			return session.Config{}, err
		}
		cfg.GraphOptimizationLevel = lvl
	}
	if c.Scheduler != "" {
		sk, err := session.ParseSchedulerKind(c.Scheduler)
		if err != nil {
			return session.Config{}, err
		}
		cfg.Scheduler = sk
	}
	if c.Workers > 0 {
		cfg.NumThreads = c.Workers
	}
	return cfg, nil
}

func main() {
	root := &cobra.Command{
		Use:           "infergraphrun <model.igraph>",
		Short:         "Load and execute a graph once",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cliflags.Register(root.Flags())

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(flags)
		if err != nil {
			return err
		}

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

		if err := s.Run(inputs, outputs); err != nil {
			return err
		}

		for i, name := range outNames {
			vals, err := outputs[i].Float32()
			if err != nil {
				fmt.Printf("%s: (%d bytes, non-float32)\n", name, len(outputs[i].Bytes()))
				continue
			}
			fmt.Printf("%s: %v\n", name, vals)
		}
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "infergraphrun:", err)
		os.Exit(exitCode(err))
	}
}
