package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncConfig_WithDefaults(t *testing.T) {
	var nilCfg *SyncConfig
	assert.Equal(t, DefaultSyncConfig(), nilCfg.withDefaults())

	cfg := (&SyncConfig{CleanupInterval: time.Nanosecond, ShareCodeAttempts: -1}).withDefaults()
	assert.Equal(t, minCleanupInterval, cfg.CleanupInterval)
	assert.Positive(t, cfg.HeartbeatInterval(), "the heartbeat ticker needs a positive period")
	assert.Equal(t, 800*time.Millisecond, cfg.EditDelay)
	assert.Zero(t, cfg.ShareCodeAttempts)

	cfg = (&SyncConfig{CleanupInterval: 40 * time.Millisecond}).withDefaults()
	assert.Equal(t, 20*time.Millisecond, cfg.HeartbeatInterval())
}
