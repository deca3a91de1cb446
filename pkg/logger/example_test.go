package logger_test

import (
	"fmt"

	"github.com/voka-studio/mediaoutput/pkg/logger"
)

// Example showing basic logger usage.
func ExampleNew_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatConsole

	log, closer, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer closer.Close()

	log.Info().Str("version", "1.0.0").Msg("application started")
	log.Warn().Str("endpoint", "/v1/outputs").Msg("deprecated API used")
}

// Example showing debug category usage: categories gate whether a package
// bothers building an expensive debug line at all, independent of the
// logger's own level filter.
func ExampleConfig_EnableCategory() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugInterleave)

	if cfg.IsCategoryEnabled(logger.DebugInterleave) {
		fmt.Println("interleave debugging enabled")
	}
	// Output: interleave debugging enabled
}

// Example showing command-line flags integration.
func ExampleRegisterFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("outputctl", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, closer, _ := logger.New(logConfig)
	// defer closer.Close()

	fmt.Println("See cmd/outputctl/main.go for a complete example")
	// Output: See cmd/outputctl/main.go for a complete example
}
