package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    StatusCategory
		wantErr bool
	}{
		{in: "ORDER", want: CategoryOrder},
		{in: "pickup", want: CategoryPickup},
		{in: " Delivery ", want: CategoryDelivery},
		{in: "check", want: CategoryCheck},
		{in: "SHIPPING", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeliveryDetails_Missing(t *testing.T) {
	var nilDetails *DeliveryDetails
	assert.True(t, nilDetails.IsZero())
	assert.Len(t, nilDetails.Missing(), 4)

	partial := &DeliveryDetails{Time: "10:00", Address: "Dock 4"}
	assert.False(t, partial.IsZero())
	assert.Equal(t, []string{"purchaseOrder", "deliveredBy"}, partial.Missing())

	whitespace := &DeliveryDetails{Time: " ", Address: "\t", PurchaseOrder: "", DeliveredBy: "  "}
	assert.True(t, whitespace.IsZero())
}

func TestNewProjectSnapshot_TracksLatestTimestamp(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &Project{ID: "p1", Name: "Tower A", OverallStatus: OverallStatusActive, CreatedAt: created, UpdatedAt: created}
	rec := &StatusUpdateRecord{ID: "r1", ProjectID: "p1", Category: CategoryPickup, Value: "Picked (B.T.W)", CreatedAt: created.Add(time.Hour)}

	snap := NewProjectSnapshot(p, map[StatusCategory]*StatusUpdateRecord{
		CategoryPickup: rec,
		CategoryOrder:  nil,
	})

	assert.Equal(t, "Picked (B.T.W)", snap.Value(CategoryPickup))
	assert.Equal(t, "", snap.Value(CategoryOrder))
	assert.NotContains(t, snap.Statuses, CategoryOrder)
	assert.Equal(t, rec.CreatedAt, snap.UpdatedAt)
}

func TestProjectSnapshot_CloneIsIndependent(t *testing.T) {
	snap := &ProjectSnapshot{
		ID:       "p1",
		Statuses: map[StatusCategory]*StatusUpdateRecord{CategoryCheck: {ID: "r1", Value: "(C.B)"}},
	}
	clone := snap.Clone()
	clone.Statuses[CategoryCheck].Value = "(C.P)"
	clone.Statuses[CategoryOrder] = &StatusUpdateRecord{ID: "r2"}

	assert.Equal(t, "(C.B)", snap.Value(CategoryCheck))
	assert.NotContains(t, snap.Statuses, CategoryOrder)
	assert.Nil(t, (*ProjectSnapshot)(nil).Clone())
}

func TestEnvelope_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(EventProjectUpdated, ProjectUpdatedData{
		EntityID:      "p2",
		EntityName:    "Tower B",
		OverallStatus: OverallStatusCompleted,
		UpdatedBy:     "pm-1",
		Timestamp:     ts,
	}, ts)
	require.NoError(t, err)

	frame, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"entityId":"p2"`)

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, EventProjectUpdated, decoded.Type)

	var data ProjectUpdatedData
	require.NoError(t, decoded.Decode(&data))
	assert.Equal(t, OverallStatusCompleted, data.OverallStatus)
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	env := Envelope{Type: EventStatusDeleted}
	var ref EntityRefData
	assert.Error(t, env.Decode(&ref))
}

func TestStatusUpdatedData_FlattensSnapshot(t *testing.T) {
	data := StatusUpdatedData{
		ProjectSnapshot: ProjectSnapshot{ID: "p1", Name: "Tower A", OverallStatus: OverallStatusActive},
		LastUpdate:      &StatusUpdateRecord{ID: "r1"},
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "p1", generic["id"])
	assert.Equal(t, "Tower A", generic["name"])
	assert.Contains(t, generic, "lastUpdate")
}

func TestEventType_Known(t *testing.T) {
	assert.True(t, EventStatusUpdated.Known())
	assert.False(t, MessageSubscribeEntity.Known())
	assert.False(t, EventType("VM_CREATED").Known())
}
