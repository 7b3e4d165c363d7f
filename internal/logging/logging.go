// Package logging wraps logrus (the library dwarri-gazette's broker/consumer
// code and Estuary Flow's capture runtime both import as
// `log "github.com/sirupsen/logrus"`) with a hook that turns every log
// entry into a protocol LOG message, so structured logs and the sync
// protocol's own LOG wire messages are the same underlying event.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/protocol"
)

// New builds a logrus.Logger that writes every entry as a protocol LOG
// message to w (typically stdout, alongside RECORD/STATE/STATUS). debug
// raises the level to Debug; otherwise the level is Info, matching the
// `debug` config key of §6.
func New(w *protocol.Writer, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard) // all output goes through the hook below
	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.AddHook(&protocolHook{w: w})
	return logger
}

// protocolHook adapts logrus.Entry firing into protocol.Writer.WriteLog
// calls, the same "every observable event becomes a line on the wire"
// idiom the teacher uses for its own structured log output, aimed at
// this connector's Airbyte-style framing instead.
type protocolHook struct {
	w *protocol.Writer
}

func (h *protocolHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *protocolHook) Fire(entry *logrus.Entry) error {
	level := levelToProtocol(entry.Level)
	msg := entry.Message
	if len(entry.Data) > 0 {
		msg = fmt.Sprintf("%s %v", msg, entry.Data)
	}
	stack, _ := entry.Data["stack_trace"].(string)
	return h.w.WriteLog(protocol.NewLogMessage(level, msg, stack))
}

func levelToProtocol(l logrus.Level) protocol.LogLevel {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return protocol.LogDebug
	case logrus.WarnLevel:
		return protocol.LogWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return protocol.LogError
	default:
		return protocol.LogInfo
	}
}
