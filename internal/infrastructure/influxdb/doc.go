// Package influxdb records authentication outcomes as time series.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// Each login, refresh, logout and authorisation decision becomes one point
// in the auth_events measurement, tagged by kind and outcome. Dashboards
// use it to spot credential stuffing (a spike of failed logins) or a broken
// client (a spike of failed refreshes).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", true, "")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write errors are delivered asynchronously to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
