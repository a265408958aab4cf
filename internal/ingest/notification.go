// Package ingest feeds asynchronous recognition output into the page store.
//
// Results arrive as bundles: JSON files written by a batch OCR engine to a
// bucket or a local directory. A push notification (a CloudEvent) names one
// bundle; the polling fallback lists a prefix until the document completes.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Event attributes used for notifications this module produces.
const (
	EventType   = "com.brieflink.ocr.bundle.ready"
	EventSource = "brieflink"
)

// ErrInvalidNotification is returned for notifications that fail validation.
var ErrInvalidNotification = errors.New("invalid notification")

// Notification announces a result bundle for one document.
type Notification struct {
	DocumentID     string `json:"documentId"`
	CaseID         string `json:"caseId,omitempty"`
	BatchLabel     string `json:"batchLabel,omitempty"`
	BundleLocation string `json:"bundleLocation"`
}

var notificationSchema = []byte(`{
  "type": "object",
  "required": ["documentId", "bundleLocation"],
  "properties": {
    "documentId": {"type": "string", "minLength": 1},
    "caseId": {"type": "string"},
    "batchLabel": {"type": "string"},
    "bundleLocation": {"type": "string", "minLength": 1}
  }
}`)

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("notification.json", bytes.NewReader(notificationSchema)); err != nil {
		return nil, fmt.Errorf("failed to load notification schema: %w", err)
	}
	return compiler.Compile("notification.json")
})

// ParseNotification validates data against the notification schema and decodes it.
func ParseNotification(data []byte) (*Notification, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return &n, nil
}

// NotificationFromEvent extracts the notification carried as event data.
func NotificationFromEvent(e *event.Event) (*Notification, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if len(e.Data()) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidNotification, e.ID())
	}
	return ParseNotification(e.Data())
}

// NewNotificationEvent wraps n in a CloudEvent with id id.
func NewNotificationEvent(id string, n Notification) (event.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(id)
	e.SetSource(EventSource)
	e.SetType(EventType)
	if n.CaseID != "" {
		e.SetSubject(n.CaseID)
	}
	if err := e.SetData(cloudevents.ApplicationJSON, n); err != nil {
		return e, fmt.Errorf("failed to encode notification: %w", err)
	}
	return e, nil
}

// NotificationFromRequest decodes a CloudEvent in binary or structured mode.
func NotificationFromRequest(r *http.Request) (*Notification, error) {
	e, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return NotificationFromEvent(e)
}
