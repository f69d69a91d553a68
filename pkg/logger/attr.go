package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Provider records the billing provider name.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// EventID records the provider-assigned event id.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records the provider event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func CustomerID(id string) slog.Attr {
	return slog.String("customer_id", id)
}

func InvoiceID(id string) slog.Attr {
	return slog.String("invoice_id", id)
}

// Plan records a plan name.
func Plan(name string) slog.Attr {
	return slog.String("plan", name)
}

// Credits records a credit amount under the given key.
func Credits(key string, amount int64) slog.Attr {
	return slog.Int64(key, amount)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
