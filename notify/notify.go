// Package notify is the user-notification boundary. The engines hand over
// structured notifications; presentation is up to the implementation.
package notify

import "log/slog"

// Severity controls how prominently a notification is presented.
type Severity int

const (
	// SeverityLow is used for automatic runs: silent, coalesced.
	SeverityLow Severity = iota
	// SeverityDefault is used for manual runs: always alerts.
	SeverityDefault
	// SeverityHigh is used for uncaught failures.
	SeverityHigh
)

// Notification describes one user-visible condition.
type Notification struct {
	Severity   Severity
	Account    string
	ServiceID  int64
	Collection string // collection URL, if the condition is scoped to one
	Resource   string // member file name, for invalid-resource notices
	Message    string
	Err        error
	Report     string // optional plain-text diagnostic bundle
}

// Notifier receives notifications for presentation.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to a logger. It is the default sink when
// no presentation layer is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(n Notification) {
	attrs := []any{
		"account", n.Account,
		"service_id", n.ServiceID,
	}
	if n.Collection != "" {
		attrs = append(attrs, "collection", n.Collection)
	}
	if n.Resource != "" {
		attrs = append(attrs, "resource", n.Resource)
	}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}

	switch n.Severity {
	case SeverityLow:
		l.Logger.Debug(n.Message, attrs...)
	case SeverityHigh:
		l.Logger.Error(n.Message, attrs...)
	default:
		l.Logger.Warn(n.Message, attrs...)
	}
}
