// Package logging provides structured logging setup for the bot.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/config"
)

const (
	serviceName = "group-guard-bot"
	redacted    = "[REDACTED]"
)

var baseLogger *logrus.Entry

// Scope carries the moderation context of a log entry. Zero-valued fields are
// omitted.
type Scope struct {
	ChatID int64
	// UserID is the member who triggered the entry, usually the admin.
	UserID int64
	// TargetID is the member a moderation action applies to.
	TargetID int64
	Command  string
	Event    string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup configures the global logger using the provided runtime configuration.
// The bot token is scrubbed from every entry since Telegram request errors
// embed it in the URL.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(cfg.AppEnv))
	if token := strings.TrimSpace(cfg.TelegramToken); token != "" {
		logger.AddHook(&redactHook{secrets: []string{token}})
	}

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     cfg.AppEnv,
	})

	return baseLogger, nil
}

// Logger returns the configured base logger, initializing a default one if Setup
// has not been called (useful for early boot errors).
func Logger() *logrus.Entry {
	return ensureLogger()
}

// Scoped derives a child of base carrying the scope's fields. A nil base falls
// back to the process logger.
func Scoped(base *logrus.Entry, scope Scope) *logrus.Entry {
	if base == nil {
		base = ensureLogger()
	}

	fields := logrus.Fields{}
	if scope.ChatID != 0 {
		fields["chat_id"] = scope.ChatID
	}
	if scope.UserID != 0 {
		fields["user_id"] = scope.UserID
	}
	if scope.TargetID != 0 {
		fields["target_id"] = scope.TargetID
	}
	if command := strings.TrimSpace(scope.Command); command != "" {
		fields["command"] = command
	}
	if event := strings.TrimSpace(scope.Event); event != "" {
		fields["event"] = event
	}

	return base.WithFields(fields)
}

// Info logs an informational message with optional structured fields.
func Info(msg string, fields logrus.Fields) {
	logWithFields(fields).Info(msg)
}

// Error logs an error message with optional structured fields.
func Error(msg string, fields logrus.Fields) {
	logWithFields(fields).Error(msg)
}

func logWithFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger != nil {
		return baseLogger
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(formatterForEnv(config.DefaultAppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     config.DefaultAppEnv,
	})

	return baseLogger
}

// redactHook replaces secrets in the message and in string or error fields.
type redactHook struct {
	secrets []string
}

func (h *redactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *redactHook) Fire(entry *logrus.Entry) error {
	entry.Message = h.scrub(entry.Message)

	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = h.scrub(v)
		case error:
			if text := h.scrub(v.Error()); text != v.Error() {
				entry.Data[key] = text
			}
		}
	}

	return nil
}

func (h *redactHook) scrub(text string) string {
	for _, secret := range h.secrets {
		text = strings.ReplaceAll(text, secret, redacted)
	}
	return text
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
