package logger

import (
	"github.com/sirupsen/logrus"
)

// Log: общий логгер процесса. До вызова Init пишет в stderr с уровнем Info.
var Log = logrus.New()

// Init настраивает структурированный логгер: JSON в production, текст в остальных окружениях.
func Init(level, env string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if env == "production" {
		Log.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// WithJob возвращает запись лога с идентификатором заказа.
func WithJob(jobID interface{}) *logrus.Entry {
	return Log.WithField("job_id", jobID)
}
