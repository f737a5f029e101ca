package logger

import (
	"testing"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInit_Level(t *testing.T) {
	Init("debug", "json", "discard")
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())

	Init("nonsense", "text", "discard")
	assert.Equal(t, logrus.InfoLevel, GetLogger().GetLevel())
}

func TestIdentityFields(t *testing.T) {
	fields := IdentityFields(domain.Identity{DeviceID: "hw", NetworkAddress: "1.2.3.4"})
	assert.Equal(t, logrus.Fields{"device_id": "hw", "network_address": "1.2.3.4"}, fields)
}

func TestComponent(t *testing.T) {
	Init("info", "text", "discard")
	assert.Equal(t, "registry", Component("registry").Data["component"])
}
