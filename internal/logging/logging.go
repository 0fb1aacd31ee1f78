package logging

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yeardb/yeardb/internal/config"
)

const (
	DefaultLogFileName = "yeardb.log"
	DefaultMaxSizeMB   = 20
	DefaultMaxBackups  = 5
	DefaultMaxAgeDays  = 30
	DefaultCompress    = true
)

// Apply sets the global log level from verbosity (-v debug, -vv trace) and
// the output writers (console plus rotating file). logFilePath empty means
// console only; loader nil means rotation defaults.
func Apply(verbosity int, loader *config.Loader, logFilePath string) {
	applyLevel(verbosity)
	applyOutputs(loader, logFilePath)
}

func applyLevel(verbosity int) {
	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default: // 2+
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
}

func applyOutputs(loader *config.Loader, logFilePath string) {
	consoleOutput := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	log.Logger = zerolog.New(consoleOutput).With().Timestamp().Logger()

	if logFilePath == "" {
		return
	}

	maxSize := DefaultMaxSizeMB
	maxBackups := DefaultMaxBackups
	maxAgeDays := DefaultMaxAgeDays
	compress := DefaultCompress

	if loader != nil {
		if val := loader.Int("log.max_size_mb", DefaultMaxSizeMB); val > 0 {
			maxSize = val
		}
		if val := loader.Int("log.max_backups", DefaultMaxBackups); val >= 0 {
			maxBackups = val
		}
		if val := loader.Int("log.max_age_days", DefaultMaxAgeDays); val >= 0 {
			maxAgeDays = val
		}
		compress = loader.Bool("log.compress", DefaultCompress)
	}

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		log.Error().Err(err).Str("path", logFilePath).Msg("Failed to prepare log directory; logging to console only")
		return
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}

	fileOutput := zerolog.ConsoleWriter{
		Out:        fileWriter,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}

	multi := zerolog.MultiLevelWriter(consoleOutput, fileOutput)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
}

// FilePathForDataDir returns a log file path living alongside the data
// directory's databases.
func FilePathForDataDir(dataDir string) string {
	if dataDir == "" {
		return DefaultLogFileName
	}
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return filepath.Join(dataDir, DefaultLogFileName)
	}
	return filepath.Join(absDir, DefaultLogFileName)
}
