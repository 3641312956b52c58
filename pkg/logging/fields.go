package logging

import (
	"strconv"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/guardian-crm/guardian/pkg/models"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Tenant adds a tenant field.
func Tenant(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tenant", id)
	}
}

// Action adds an action type field.
func Action(a models.ActionType) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("action", string(a))
	}
}

// Tier adds a cache tier field.
func Tier(t models.Tier) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tier", string(t))
	}
}

// FromState adds a from_state field for breaker transitions.
func FromState(s models.CircuitState) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_state", string(s))
	}
}

// ToState adds a to_state field for breaker transitions.
func ToState(s models.CircuitState) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("to_state", string(s))
	}
}

// RequestID adds a request ID field.
func RequestID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("request_id", id)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Int adds an integer field with custom key.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}

// Int64 adds a 64-bit integer field with custom key.
func Int64(key string, value int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64(key, value)
	}
}

// Float adds a float field rendered with four decimals.
func Float(key string, value float64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, strconv.FormatFloat(value, 'f', 4, 64))
	}
}

// Bool adds a boolean field with custom key.
func Bool(key string, value bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool(key, value)
	}
}
