package shared_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseValidate(t *testing.T) {
	b := Base{Storage: Storage{Driver: StorageMemory}}
	assert.NoError(t, b.Validate())

	b = Base{Storage: Storage{Driver: StoragePostgres}}
	assert.Error(t, b.Validate())

	b = Base{Storage: Storage{Driver: "sqlite"}}
	assert.ErrorContains(t, b.Validate(), "sqlite")

	b = Base{Storage: Storage{Driver: StorageMemory}, OTEL: OTEL{SampleRatio: 2}}
	assert.Error(t, b.Validate())
}

func TestLogAsLoggerConfig(t *testing.T) {
	l := Log{Level: "debug", File: "/tmp/x.log", MaxSizeMB: 10}
	c := l.AsLoggerConfig(App{Name: "api", Env: "prod", Version: "1.2.3"})
	assert.Equal(t, "deliverus/api", c.App)
	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "/tmp/x.log", c.File)
	assert.Equal(t, 10, c.MaxSizeMB)
}
