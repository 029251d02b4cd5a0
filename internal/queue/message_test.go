package queue_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestMessageDecode(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid",
			data: `{"request_id":"` + id + `","student_id":"s1","query":"gravity","grade_level":10,"personalization_hint":"basketball"}`,
		},
		{
			name: "grade zero is present",
			data: `{"request_id":"` + id + `","student_id":"s1","query":"counting","grade_level":0}`,
		},
		{
			name:    "not json",
			data:    `request_id=` + id,
			wantErr: true,
		},
		{
			name:    "bad uuid",
			data:    `{"request_id":"not-a-uuid","student_id":"s1","query":"gravity","grade_level":10}`,
			wantErr: true,
		},
		{
			name:    "missing student",
			data:    `{"request_id":"` + id + `","query":"gravity","grade_level":10}`,
			wantErr: true,
		},
		{
			name:    "blank query",
			data:    `{"request_id":"` + id + `","student_id":"s1","query":"  ","grade_level":10}`,
			wantErr: true,
		},
		{
			name:    "missing grade",
			data:    `{"request_id":"` + id + `","student_id":"s1","query":"gravity"}`,
			wantErr: true,
		},
		{
			name:    "grade out of range",
			data:    `{"request_id":"` + id + `","student_id":"s1","query":"gravity","grade_level":13}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := &queue.Message{ID: "m1", Data: []byte(tt.data)}
			p, err := msg.Decode()
			if tt.wantErr {
				assert.ErrorIs(t, err, queue.ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, p.ID().String())
			assert.GreaterOrEqual(t, p.Grade(), 0)
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	p := queue.Payload{
		RequestID:     uuid.NewString(),
		CorrelationID: "corr-1",
		StudentID:     "s1",
		Query:         "volcanoes",
		GradeLevel:    intPtr(3),
	}
	data, attrs, err := queue.Encode(p)
	require.NoError(t, err)
	assert.Equal(t, p.RequestID, attrs[queue.AttrRequestID])
	assert.Equal(t, "corr-1", attrs[queue.AttrCorrelationID])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "topic_id")
	assert.InDelta(t, 3, raw["grade_level"], 0)

	msg := &queue.Message{Data: data, Attributes: attrs}
	decoded, err := msg.Decode()
	require.NoError(t, err)
	assert.Equal(t, p, *decoded)
	assert.Equal(t, "corr-1", msg.Attr(queue.AttrCorrelationID))
	assert.Empty(t, (&queue.Message{}).Attr(queue.AttrRequestID))
}
