package importer

import (
	"strings"
	"testing"

	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "org_id,event_type,event_source,instance_id,timestamp,product_tags,metric_id,uom,value,service_type,sla,usage,hardware_type,billing_provider,billing_account_id,display_name\n"

func TestReadEvents_MergesConsecutiveMeasurements(t *testing.T) {
	csv := header +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift|RHEL,Cores,,4,OpenShift Cluster,Premium,Production,,,,cluster-a\n" +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift|RHEL,,Instance-hours,1,OpenShift Cluster,Premium,Production,,,,cluster-a\n" +
		"org123,snapshot,prometheus,i-2,2024-06-01T00:00:00Z,OpenShift,Cores,,2.5,OpenShift Cluster,Standard,Production,,aws,acct-1,\n"

	evts, rowErrors, err := ReadEvents(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, evts, 2)

	first := evts[0]
	assert.Equal(t, []string{"OpenShift", "RHEL"}, first.ProductTags)
	require.Len(t, first.Measurements, 2)
	assert.Equal(t, "Cores", first.Measurements[0].MetricID)
	assert.Equal(t, "Instance-hours", first.Measurements[1].EffectiveMetricID())
	assert.Equal(t, "cluster-a", first.DisplayName)
	assert.NoError(t, first.Validate())

	second := evts[1]
	assert.Equal(t, "i-2", second.InstanceID)
	assert.Equal(t, "2.5", second.Measurements[0].Value.String())
	assert.Equal(t, "aws", second.BillingProvider)
}

func TestReadEvents_ReportsBadRows(t *testing.T) {
	csv := header +
		"org123,snapshot,prometheus,i-1,yesterday,OpenShift,Cores,,4,,,,,,,\n" +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift,Cores,,four,,,,,,,\n" +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift,Cores,,4,,,,,,,\n"

	evts, rowErrors, err := ReadEvents(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, evts, 1)
	require.Len(t, rowErrors, 2)
	assert.Equal(t, 2, rowErrors[0].Line)
	assert.Equal(t, 3, rowErrors[1].Line)
	assert.True(t, ierr.IsValidation(rowErrors[0].Err))
}

func TestReadEvents_DifferentDescriptorIsNewEvent(t *testing.T) {
	csv := header +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift,Cores,,4,,Premium,,,,,\n" +
		"org123,snapshot,prometheus,i-1,2024-06-01T00:00:00Z,OpenShift,Cores,,4,,Standard,,,,,\n"

	evts, _, err := ReadEvents(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, evts, 2)
}
