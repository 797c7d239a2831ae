package events

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeData(t *testing.T) {
	e := &Event{
		ID:          "evt_1",
		ProductTags: []string{"OpenShift", "RHEL"},
		Measurements: []*Measurement{
			{MetricID: "Cores", Value: decimal.RequireFromString("4.5")},
			{UOM: "Instance-hours", Value: decimal.NewFromInt(1)},
		},
		DisplayName:     "cluster-a",
		UsageDescriptor: UsageDescriptor{Sla: "Premium", BillingProvider: "aws"},
	}

	data, err := EncodeData(e)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "evt_1")

	var decoded Event
	require.NoError(t, DecodeData(&decoded, data))
	assert.Equal(t, e.ProductTags, decoded.ProductTags)
	assert.Equal(t, "4.5", decoded.Measurements[0].Value.String())
	assert.Equal(t, "Instance-hours", decoded.Measurements[1].EffectiveMetricID())
	assert.Equal(t, e.Descriptor(), decoded.Descriptor())
	assert.Equal(t, "cluster-a", decoded.DisplayName)
}

func TestDecodeData_Invalid(t *testing.T) {
	err := DecodeData(&Event{ID: "evt_1"}, []byte(`[1,2]`))
	assert.Error(t, err)
}
