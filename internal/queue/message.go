package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Attribute keys carried alongside the payload.
const (
	AttrRequestID     = "request_id"
	AttrCorrelationID = "correlation_id"
	AttrReason        = "dead_letter_reason"
)

// Payload is the JSON body of a work message.
type Payload struct {
	RequestID           string `json:"request_id" validate:"required"`
	CorrelationID       string `json:"correlation_id,omitempty"`
	StudentID           string `json:"student_id" validate:"required"`
	Query               string `json:"query" validate:"required"`
	GradeLevel          *int   `json:"grade_level" validate:"required,gte=0,lte=12"`
	PersonalizationHint string `json:"personalization_hint,omitempty"`
	// TopicID overrides the topic derived from Query for cache lookups.
	TopicID string `json:"topic_id,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the payload schema.
func (p *Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields %s", ErrMalformedMessage, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if _, err := uuid.Parse(p.RequestID); err != nil {
		return fmt.Errorf("%w: request_id %q is not a UUID", ErrMalformedMessage, p.RequestID)
	}
	if strings.TrimSpace(p.StudentID) == "" || strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("%w: student_id and query cannot be blank", ErrMalformedMessage)
	}
	return nil
}

// ID returns the parsed request id. Call Validate first.
func (p *Payload) ID() uuid.UUID {
	id, _ := uuid.Parse(p.RequestID)
	return id
}

// Grade returns the grade level, or -1 when it is missing.
func (p *Payload) Grade() int {
	if p.GradeLevel == nil {
		return -1
	}
	return *p.GradeLevel
}

// Encode serializes p and derives the routing attributes.
func Encode(p Payload) ([]byte, map[string]string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	attrs := map[string]string{AttrRequestID: p.RequestID}
	if p.CorrelationID != "" {
		attrs[AttrCorrelationID] = p.CorrelationID
	}
	return data, attrs, nil
}

// Message is one delivery of a queued payload.
type Message struct {
	// ID identifies the message within its queue. Implementations may assign a
	// new ID when a message is redelivered.
	ID         string
	Data       []byte
	Attributes map[string]string
	// DeliveryAttempt starts at 1 for the first delivery.
	DeliveryAttempt int
	PublishTime     time.Time
	// Deadline is when the message becomes eligible for redelivery if it is
	// neither acked nor nacked.
	Deadline time.Time
}

// Decode unmarshals and validates the payload.
func (m *Message) Decode() (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := p.Validate(); err != nil {
		return &p, err
	}
	return &p, nil
}

// Attr returns the attribute value for key, or "".
func (m *Message) Attr(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}
