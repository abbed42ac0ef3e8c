package obs

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
	})
	return logger
}

// SetLevel adjusts the shared logger; unknown names leave it unchanged.
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	Logger().SetLevel(lvl)
	return nil
}

// LogRequest emits a structured JSON log line. The "msg" and "level" entries,
// when present, become the message and level of the line.
func LogRequest(entry map[string]any) {
	fields := make(logrus.Fields, len(entry))
	msg := "request"
	level := logrus.InfoLevel
	for k, v := range entry {
		switch k {
		case "msg":
			if s, ok := v.(string); ok {
				msg = s
			}
		case "level":
			if s, ok := v.(string); ok {
				if lvl, err := logrus.ParseLevel(s); err == nil {
					level = lvl
				}
			}
		case "ts":
		default:
			fields[k] = v
		}
	}
	Logger().WithFields(fields).Log(level, msg)
}
