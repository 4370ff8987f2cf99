package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// authEventsMeasurement holds one point per authentication outcome.
const authEventsMeasurement = "auth_events"

// WriteAuthEvent records the outcome of a login, refresh, logout or
// authorisation check. Tags stay low cardinality: no user ids, no emails.
//
//	client.WriteAuthEvent("login", false, "invalid_credentials")
func (c *Client) WriteAuthEvent(kind string, success bool, reason string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(kind, success, reason, time.Now()))
}

func authEventPoint(kind string, success bool, reason string, at time.Time) *write.Point {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	tags := map[string]string{
		"kind":    kind,
		"outcome": outcome,
	}
	if reason != "" {
		tags["reason"] = reason
	}
	return write.NewPoint(authEventsMeasurement, tags, map[string]any{"count": 1}, at)
}
