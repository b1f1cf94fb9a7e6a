package eventbus

import (
	"encoding/json"
	"time"
)

// Kind classifies a mutation for subscription filtering and, ultimately,
// for the external notification channel the kernel publishes to.
type Kind string

const (
	KindTaskChanged       Kind = "TaskChanged"
	KindDependencyChanged Kind = "DependencyChanged"
	KindFileMarkChanged   Kind = "FileMarkChanged"
	KindWorkerChanged     Kind = "WorkerChanged"
	KindAttachmentChanged Kind = "AttachmentChanged"
)

// Event is one mutation notification flowing through the bus. Payload is
// kind-specific (a task id, an edge, a file mark, ...), kept as raw JSON so
// the bus itself never needs to import every entity type.
type Event struct {
	Kind      Kind            `json:"kind"`
	ResourceURI string        `json:"resource_uri"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}
