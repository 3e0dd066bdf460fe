package events

import "encoding/json"

// Push channel names. These match the event names the UI subscribes to.
const (
	ConnectionStateChanged = "connectionStateChanged"
	UPSStaticData          = "upsStaticData"
	UPSTelemetryUpdated    = "upsTelemetryUpdated"
	ThemeSystemChanged     = "themeSystemChanged"
)

// Event is one published message as delivered over the wire (SSE).
type Event struct {
	Name string          // channel name
	Data json.RawMessage // JSON payload
}

// ConnectionStatePayload is the payload for connectionStateChanged.
type ConnectionStatePayload struct {
	State string `json:"state"`
}

// TelemetryPayload is the payload for upsTelemetryUpdated.
type TelemetryPayload struct {
	TS     string              `json:"ts"`
	Values map[string]*float64 `json:"values"`
}

// StaticDataPayload is the payload for upsStaticData: the current raw
// variable snapshot restricted to static fields.
type StaticDataPayload struct {
	Variables map[string]string `json:"variables"`
}

// DecodeAs decodes the event payload into the caller-specified type T.
// If Data is empty it returns the zero value of T with a nil error.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
