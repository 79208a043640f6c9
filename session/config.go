package session

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sbl8/infergraph/errs"
	"github.com/sbl8/infergraph/optimizer"
)

// SchedulerKind selects which of the three scheduling strategies a session
// uses to walk the optimized graph.
type SchedulerKind uint8

const (
	SchedulerTopological SchedulerKind = iota
	SchedulerPipeline
	SchedulerParallel
)

// Config mirrors the recognized configuration keys: ordered provider
// preference, optimization level, fusion/profiling toggles, worker count,
// and a memory pool cap.
type Config struct {
	ExecutionProviders     []string        `yaml:"execution_providers"`
	DeviceID               int             `yaml:"device_id"`
	GraphOptimizationLevel optimizer.Level `yaml:"graph_optimization_level"`
	EnableOperatorFusion   bool            `yaml:"enable_operator_fusion"`
	Scheduler              SchedulerKind   `yaml:"-"`
	NumThreads             int             `yaml:"num_threads"`
	EnableProfiling        bool            `yaml:"enable_profiling"`
	MemoryPoolSize         int64           `yaml:"memory_pool_size"`
	QuantizationDType      string          `yaml:"quantization_dtype"`
}

// DefaultConfig returns a Config matching the core's documented defaults:
// CPU only, extended optimization, sequential (topological) scheduling.
func DefaultConfig() Config {
	return Config{
		ExecutionProviders:     []string{"cpu"},
		GraphOptimizationLevel: optimizer.LevelExtended,
		EnableOperatorFusion:   true,
		Scheduler:              SchedulerTopological,
	}
}

// rawConfig exists because graph_optimization_level and scheduler are
// serialized as strings in YAML rather than the numeric enum Config itself
// carries.
type rawConfig struct {
	ExecutionProviders     []string `yaml:"execution_providers"`
	DeviceID               int      `yaml:"device_id"`
	GraphOptimizationLevel string   `yaml:"graph_optimization_level"`
	EnableOperatorFusion   bool     `yaml:"enable_operator_fusion"`
	Scheduler              string   `yaml:"scheduler"`
	NumThreads             int      `yaml:"num_threads"`
	EnableProfiling        bool     `yaml:"enable_profiling"`
	MemoryPoolSize         int64    `yaml:"memory_pool_size"`
	QuantizationDType      string   `yaml:"quantization_dtype"`
}

// ParseOptimizationLevel parses the string form of graph_optimization_level
// ("none", "basic", "extended", "all"); "" defaults to none. Exported for
// CLI front ends that accept the same vocabulary as a flag.
func ParseOptimizationLevel(s string) (optimizer.Level, error) {
	return parseLevel(s)
}

// ParseSchedulerKind parses the string form of scheduler ("topological",
// "pipeline", "parallel"); "" defaults to topological.
func ParseSchedulerKind(s string) (SchedulerKind, error) {
	return parseScheduler(s)
}

func parseLevel(s string) (optimizer.Level, error) {
	switch s {
	case "", "none":
		return optimizer.LevelNone, nil
	case "basic":
		return optimizer.LevelBasic, nil
	case "extended":
		return optimizer.LevelExtended, nil
	case "all":
		return optimizer.LevelAll, nil
	default:
		return 0, errs.Newf(errs.InvalidArgument, "session: unknown graph_optimization_level %q", s)
	}
}

func parseScheduler(s string) (SchedulerKind, error) {
	switch s {
	case "", "topological":
		return SchedulerTopological, nil
	case "pipeline":
		return SchedulerPipeline, nil
	case "parallel":
		return SchedulerParallel, nil
	default:
		return 0, errs.Newf(errs.InvalidArgument, "session: unknown scheduler %q", s)
	}
}

// LoadConfigFile reads a YAML configuration file into a Config, starting
// from DefaultConfig for any key the file omits.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.NotFound, err, "session: reading config %q", path)
	}

	cfg := DefaultConfig()
	raw := rawConfig{EnableOperatorFusion: cfg.EnableOperatorFusion}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrapf(errs.InvalidArgument, err, "session: parsing config %q", path)
	}

	level, err := parseLevel(raw.GraphOptimizationLevel)
	if err != nil {
		return nil, err
	}
	sched, err := parseScheduler(raw.Scheduler)
	if err != nil {
		return nil, err
	}

	if len(raw.ExecutionProviders) > 0 {
		cfg.ExecutionProviders = raw.ExecutionProviders
	}
	cfg.DeviceID = raw.DeviceID
	if raw.GraphOptimizationLevel != "" {
		cfg.GraphOptimizationLevel = level
	}
	cfg.EnableOperatorFusion = raw.EnableOperatorFusion
	cfg.Scheduler = sched
	cfg.NumThreads = raw.NumThreads
	cfg.EnableProfiling = raw.EnableProfiling
	cfg.MemoryPoolSize = raw.MemoryPoolSize
	cfg.QuantizationDType = raw.QuantizationDType
	return &cfg, nil
}
