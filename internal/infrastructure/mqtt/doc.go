// Package mqtt connects the bridge to an MQTT broker.
//
// The bridge publishes what it observes so other home services can react
// without talking to the hub themselves:
//
//	<prefix>/status                             bridge online/offline (retained, LWT)
//	<prefix>/backend/availability               hub reachable (retained)
//	<prefix>/notifications/<user>/<entity>      fired notifications
//	<prefix>/outbox/<user>                      chat messages for delivery
//	<prefix>/tasks/<id>/result                  scheduled task outcomes
//	<prefix>/registry/sync                      last registry sync summary (retained)
//
// It subscribes to <prefix>/command/registry_sync to resync on demand.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().TaskResult(42), run, false)
package mqtt
