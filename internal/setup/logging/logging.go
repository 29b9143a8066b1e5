// Package logging builds the zap loggers used by the bot and the batch jobs.
// Each process run gets its own timestamped session directory under the log
// root; old sessions are pruned so the directory does not grow forever.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggers creates the main and database loggers, both writing to the
// console and to per-session log files under logDir.
func NewLoggers(logDir, level string, maxLogsToKeep int) (*zap.Logger, *zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	sessionDir, err := newSessionDir(logDir, maxLogsToKeep)
	if err != nil {
		return nil, nil, err
	}

	mainLogger, err := newLogger(filepath.Join(sessionDir, "main.log"), zapLevel)
	if err != nil {
		return nil, nil, err
	}

	dbLogger, err := newLogger(filepath.Join(sessionDir, "database.log"), zapLevel)
	if err != nil {
		return nil, nil, err
	}

	return mainLogger, dbLogger, nil
}

// newLogger builds a zap logger with a console core and a file core.
func newLogger(path string, level zapcore.Level) (*zap.Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(file), level),
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// newSessionDir creates a fresh session directory and prunes old ones.
func newSessionDir(logDir string, maxLogsToKeep int) (string, error) {
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := pruneSessions(logDir, maxLogsToKeep); err != nil {
		return "", err
	}

	sessionDir := filepath.Join(logDir, time.Now().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(sessionDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	return sessionDir, nil
}

// pruneSessions removes the oldest session directories, keeping maxToKeep.
func pruneSessions(logDir string, maxToKeep int) error {
	if maxToKeep <= 0 {
		return nil
	}

	sessions, err := filepath.Glob(filepath.Join(logDir, "*"))
	if err != nil {
		return fmt.Errorf("failed to list log sessions: %w", err)
	}

	if len(sessions) < maxToKeep {
		return nil
	}

	// Sort sessions by modification time, oldest first
	sort.Slice(sessions, func(i, j int) bool {
		iInfo, _ := os.Stat(sessions[i])
		jInfo, _ := os.Stat(sessions[j])

		if iInfo == nil || jInfo == nil {
			return false
		}

		return iInfo.ModTime().Before(jInfo.ModTime())
	})

	// Keep room for the session about to be created
	for _, session := range sessions[:len(sessions)-maxToKeep+1] {
		if err := os.RemoveAll(session); err != nil {
			return fmt.Errorf("failed to remove old log session: %w", err)
		}
	}

	return nil
}
