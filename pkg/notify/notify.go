// Package notify reports adapter events, such as created topics, failing handlers and
// ended subscribers, as entity.NotificationEvents on the optional notify channel. Events
// are also logged if the Notifier is given a logger.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/psadapter/entity"
)

const (
	RoleAdapter    = "adapter"
	RoleSubscriber = "subscriber"
)

// LogLevelEnv is the env variable holding the min level of events to report, e.g. "WARN".
// If not set or invalid, INFO is used.
const LogLevelEnv = "LOG_LEVEL"

const timestampFormat = "2006-01-02T15:04:05.000000Z"

// Stack depth from notify() to the code reporting the event
const callerSkip = 2

// Notifier reports the events of one adapter instance. A subscriber gets its own Notifier
// from Subscriber(), tagging its events with channel and subscription.
type Notifier struct {
	ch           entity.NotifyChan
	log          *logger.Log
	minLevel     int
	role         string
	instance     string
	channel      string
	subscription string
}

// New creates a Notifier for the adapter with the provided instance ID. Both ch and log
// are optional.
func New(ch entity.NotifyChan, log *logger.Log, instance string) *Notifier {
	minLevel := entity.NotifyLevel(os.Getenv(LogLevelEnv))
	if minLevel == entity.NotifyLevelInvalid {
		minLevel = entity.NotifyLevelInfo
	}
	return &Notifier{
		ch:       ch,
		log:      log,
		minLevel: minLevel,
		role:     RoleAdapter,
		instance: instance,
	}
}

// Subscriber returns a Notifier for a subscriber consuming from the channel.
func (n *Notifier) Subscriber(channel, subscription string) *Notifier {
	s := *n
	s.role = RoleSubscriber
	s.channel = channel
	s.subscription = subscription
	return &s
}

func (n *Notifier) Debugf(format string, args ...any) {
	n.notify(entity.NotifyLevelDebug, "", fmt.Sprintf(format, args...))
}

func (n *Notifier) Infof(format string, args ...any) {
	n.notify(entity.NotifyLevelInfo, "", fmt.Sprintf(format, args...))
}

func (n *Notifier) Warnf(format string, args ...any) {
	n.notify(entity.NotifyLevelWarn, "", fmt.Sprintf(format, args...))
}

func (n *Notifier) Errorf(format string, args ...any) {
	n.notify(entity.NotifyLevelError, "", fmt.Sprintf(format, args...))
}

// MessageFailed reports a message the handler returned an error for, or panicked on.
func (n *Notifier) MessageFailed(msg *entity.Message, err error) {
	n.notify(entity.NotifyLevelError, msg.ID, fmt.Sprintf("message handler error: %v, message: %s", err, msg))
}

func (n *Notifier) notify(level int, messageID, message string) {
	if level < n.minLevel {
		return
	}

	event := entity.NotificationEvent{
		Level:        entity.NotifyLevelName(level),
		Timestamp:    time.Now().UTC().Format(timestampFormat),
		Role:         n.role,
		Instance:     n.instance,
		Channel:      n.channel,
		Subscription: n.subscription,
		MessageID:    messageID,
		Message:      message,
		Func:         "unknown",
	}

	pc, file, line, ok := runtime.Caller(callerSkip)
	if ok {
		if f := runtime.FuncForPC(pc); f != nil {
			_, event.Func = filepath.Split(f.Name())
		}
	}
	if level >= entity.NotifyLevelWarn {
		event.File = file
		event.Line = line
	}
	if level == entity.NotifyLevelError {
		stackTrace := make([]byte, 1024)
		event.StackTrace = string(stackTrace[:runtime.Stack(stackTrace, false)])
	}

	// Never block the adapter on a slow reader
	select {
	case n.ch <- event:
	default:
	}

	n.logEvent(level, event)
}

func (n *Notifier) logEvent(level int, event entity.NotificationEvent) {
	if n.log == nil {
		return
	}

	prefix := "[" + event.Role + ":" + event.Instance + "]"
	if event.Channel != "" {
		prefix += "(channel: " + event.Channel + ")"
	}
	if event.MessageID != "" {
		prefix += "(message: " + event.MessageID + ")"
	}

	switch level {
	case entity.NotifyLevelDebug:
		n.log.Debugf("%s %s", prefix, event.Message)
	case entity.NotifyLevelInfo:
		n.log.Infof("%s %s", prefix, event.Message)
	case entity.NotifyLevelWarn:
		n.log.Warnf("%s %s", prefix, event.Message)
	case entity.NotifyLevelError:
		n.log.Errorf("%s %s", prefix, event.Message)
	}
}
