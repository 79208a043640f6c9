// Package cliflags registers the configuration flags shared by the
// infergraphrun and infergraphprofile commands directly against a
// *pflag.FlagSet, so both root cobra.Commands wire them the same way instead
// of redeclaring the same StringVar/StringSliceVar calls; infergraphc
// declares its own flags.
package cliflags

import "github.com/spf13/pflag"

// Common holds the values cobra populates from the shared flag set.
type Common struct {
	ConfigPath string
	Providers  []string
	OptLevel   string
	Scheduler  string
	Workers    int
}

// Register adds the shared configuration flags to fs and returns the
// struct cobra will populate on parse.
func Register(fs *pflag.FlagSet) *Common {
	c := &Common{}
	fs.StringVar(&c.ConfigPath, "config", "", "YAML session configuration file")
	fs.StringSliceVar(&c.Providers, "providers", nil, "execution provider preference order")
	fs.StringVar(&c.OptLevel, "opt-level", "", "graph optimization level: none|basic|extended|all")
	fs.StringVar(&c.Scheduler, "scheduler", "", "scheduler: topological|pipeline|parallel")
	fs.IntVar(&c.Workers, "workers", 0, "worker/stage count for parallel or pipeline scheduling")
	return c
}
