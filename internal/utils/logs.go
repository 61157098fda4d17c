package utils

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

type LogsManager struct {
	cm     *ConfigManager
	logger *log.Logger
	file   *os.File
	mutex  sync.RWMutex
	closed bool
}

// NewLogsManager builds a logger from the log_* config keys. log_output selects
// between the log file in the application log directory and stderr.
func NewLogsManager(cm *ConfigManager) *LogsManager {
	output := strings.ToLower(cm.GetConfigWithDefault("log_output", "file"))
	if output == "stderr" {
		return NewLogsManagerWithWriter(cm, os.Stderr)
	}

	path := GetAppPaths("").GetLogPath(cm.GetConfigWithDefault("logfile", AppName+".log"))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s, logging to stderr: %v\n", path, err)
		return NewLogsManagerWithWriter(cm, os.Stderr)
	}

	lm := NewLogsManagerWithWriter(cm, file)
	lm.file = file
	return lm
}

// NewLogsManagerWithWriter builds a logger writing JSON entries to w
func NewLogsManagerWithWriter(cm *ConfigManager, w io.Writer) *LogsManager {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetFormatter(&log.JSONFormatter{})

	logLevel := cm.GetConfigWithDefault("log_level", "info")
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', defaulting to 'info'\n", logLevel)
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	return &LogsManager{
		cm:     cm,
		logger: logger,
	}
}

func (lm *LogsManager) fileInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "<???>"
		line = 1
	} else if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// LogWithFields logs message with extra structured fields next to category and file
func (lm *LogsManager) LogWithFields(level string, message string, category string, fields log.Fields) {
	lm.log(level, message, category, fields)
}

func (lm *LogsManager) log(level string, message string, category string, fields log.Fields) {
	// nil manager discards
	if lm == nil {
		return
	}

	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	if lm.closed {
		return
	}

	entry := lm.logger.WithFields(log.Fields{
		"category": category,
		"file":     lm.fileInfo(3),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}

	switch level {
	case "trace":
		entry.Trace(message)
	case "debug":
		entry.Debug(message)
	case "warn":
		entry.Warn(message)
	case "error":
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

// Convenience methods for different log levels
func (lm *LogsManager) Debug(message string, category string) {
	lm.log("debug", message, category, nil)
}

func (lm *LogsManager) Info(message string, category string) {
	lm.log("info", message, category, nil)
}

func (lm *LogsManager) Warn(message string, category string) {
	lm.log("warn", message, category, nil)
}

func (lm *LogsManager) Error(message string, category string) {
	lm.log("error", message, category, nil)
}

// SetLogLevel updates the log level at runtime
func (lm *LogsManager) SetLogLevel(levelStr string) error {
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", levelStr, err)
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.logger.SetLevel(level)

	return nil
}

// Close closes the log file - call this when shutting down
func (lm *LogsManager) Close() error {
	if lm == nil {
		return nil
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.closed = true
	if lm.file != nil {
		err := lm.file.Close()
		lm.file = nil
		return err
	}
	return nil
}
