package report_consumer_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "report-consumer", cfg.In.GroupID)
	assert.Equal(t, "deliverus.delivery.reports", cfg.In.Topic)
	assert.Equal(t, ":8084", cfg.Server.MetricsAddr)
}

func TestLoad_BrokersFromEnv(t *testing.T) {
	t.Setenv("KAFKA_IN_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.In.Brokers)
}
