package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"HTTPRequestDuration", HTTPRequestDuration},
		{"HTTPRequestsInFlight", HTTPRequestsInFlight},
		{"PipelineRunsTotal", PipelineRunsTotal},
		{"PipelineStageDuration", PipelineStageDuration},
		{"PipelinesInProgress", PipelinesInProgress},
		{"PipelineQueueWaitSeconds", PipelineQueueWaitSeconds},
		{"ThumbnailEmbedFailuresTotal", ThumbnailEmbedFailuresTotal},
		{"OutroSelectionsTotal", OutroSelectionsTotal},
		{"SessionCleanupFailuresTotal", SessionCleanupFailuresTotal},
		{"SessionsOpen", SessionsOpen},
		{"DownloadBytesTotal", DownloadBytesTotal},
		{"DownloadRetriesTotal", DownloadRetriesTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestPipelineRunsTotal_Labels(t *testing.T) {
	c := PipelineRunsTotal.WithLabelValues("FAILED", "PROBING")
	before := testutil.ToFloat64(c)

	c.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestThumbnailEmbedFailuresTotal_Increments(t *testing.T) {
	before := testutil.ToFloat64(ThumbnailEmbedFailuresTotal)

	ThumbnailEmbedFailuresTotal.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(ThumbnailEmbedFailuresTotal))
}
