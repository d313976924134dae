// Package influxdb records the bridge's activity as time series.
//
// When enabled, every fired notification becomes a state_change point,
// every registry sync a registry_sync point and every scheduled task run a
// task_run point. Writes are non-blocking and batched per config
// (batch_size, flush_interval); asynchronous write failures are reported
// through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time series are optional
//	}
//	defer client.Close()
//
//	client.WriteStateChange("light.kitchen", "off", "on", time.Now())
package influxdb
