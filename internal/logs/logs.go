package logs

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation: limity pliku logów (MB / ilość kopii / dni)
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func New(logFilePath string, withConsole bool) zerolog.Logger {
	return NewRotating(logFilePath, withConsole, Rotation{MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 30})
}

// NewRotating: kasa chodzi miesiącami, więc plik jest rotowany przez lumberjack.
func NewRotating(logFilePath string, withConsole bool, rot Rotation) zerolog.Logger {
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Nie można utworzyć katalogu logów")
	}
	logFile := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   true,
	}

	// Format czasu
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = logFile

	if withConsole {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.MultiLevelWriter(logFile, consoleWriter)
	}

	// Logger z timestampem i info o miejscu wywołania
	logger := zerolog.New(writer).With().
		Timestamp().
		Caller().
		Logger()

	// Ustaw globalny logger
	log.Logger = logger

	return logger
}
