package mqttcm

import (
	"fmt"
	"log/slog"
)

// stdLoggerish adapts slog to the Println/Printf logger paho wants.
type stdLoggerish struct {
	key string
	log *slog.Logger
}

func newStdLog(key string, log *slog.Logger) *stdLoggerish {
	return &stdLoggerish{
		key: key,
		log: log,
	}
}

func (l stdLoggerish) Println(msg ...any) {
	l.log.Warn(l.key, "msg", fmt.Sprint(msg...))
}

func (l stdLoggerish) Printf(msg string, args ...any) {
	l.log.Warn(l.key, "msg", fmt.Sprintf(msg, args...))
}
