package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()

	c.ObserveWrite("cards", nil)
	c.ObserveWrite("cards", errors.New("x"))
	c.ObserveSchedule("cards")
	c.ObserveEvictions(2)
	c.SetSyncStatus(domain.SyncSyncing)
	c.SetSyncStatus(domain.SyncSynced)
	c.SetGatewayConnections(3)
	c.ObserveGatewayRequest("Put", 1)
	c.ObserveGatewayRequest("Put", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RemoteWrites.WithLabelValues("cards", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PresenceEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SyncStatus.WithLabelValues("synced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.SyncStatus.WithLabelValues("syncing")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.GatewayConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.GatewayRequests.WithLabelValues("Put", "1")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "board_sync_remote_writes_total")
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveWrite("cards", nil)
	c.SetSyncStatus(domain.SyncError)
	c.ObserveEvictions(1)
	c.ObserveGatewayRequest("Get", 404)
}
