package entity

// NotificationEvent is the type of the events sent by the adapter and its backends to the
// notification channel provided in psadapter.Config.NotifyChan.
type NotificationEvent struct {

	// The notification level
	Level string

	// Timestamp of the event on the format "2006-01-02T15:04:05.000000Z"
	Timestamp string

	// Role of the reporting part of the adapter, "adapter" or "subscriber"
	Role string

	// The unique ID of the adapter instance
	Instance string

	// Channel and subscription the event concerns, if any
	Channel      string
	Subscription string

	// ID of the message the event concerns, e.g. when a handler fails
	MessageID string

	Message string

	// Location and stack info, from where notification was sent.
	// Func is always provided.
	// File and Line are added when notification level is WARN or above.
	// StackTrace is added when notification level is ERROR.
	Func       string
	File       string
	Line       int
	StackTrace string
}

type NotifyChan chan NotificationEvent

const (
	NotifyLevelInvalid = iota
	NotifyLevelDebug
	NotifyLevelInfo
	NotifyLevelWarn
	NotifyLevelError
)

const (
	NotifyLevelStrDebug = "DEBUG"
	NotifyLevelStrInfo  = "INFO"
	NotifyLevelStrWarn  = "WARN"
	NotifyLevelStrError = "ERROR"
)

var notifyLevelName = map[int]string{
	NotifyLevelInvalid: "INVALID",
	NotifyLevelDebug:   NotifyLevelStrDebug,
	NotifyLevelInfo:    NotifyLevelStrInfo,
	NotifyLevelWarn:    NotifyLevelStrWarn,
	NotifyLevelError:   NotifyLevelStrError,
}

func NotifyLevelName(notifyLevel int) string {
	name, ok := notifyLevelName[notifyLevel]
	if !ok {
		name = "INVALID"
	}
	return name
}

// NotifyLevel returns the level matching the provided level name, e.g. "WARN", or
// NotifyLevelInvalid if no such level exists.
func NotifyLevel(name string) int {
	for level, levelName := range notifyLevelName {
		if level != NotifyLevelInvalid && levelName == name {
			return level
		}
	}
	return NotifyLevelInvalid
}
