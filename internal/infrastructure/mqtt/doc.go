// Package mqtt provides MQTT client connectivity for TagSakay Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for core offline detection
//
// # Topics
//
//	tagsakay/device/{deviceID}/scan     scanner -> core   tag reads
//	tagsakay/device/{deviceID}/status   scanner -> core   online/offline
//	tagsakay/device/{deviceID}/result   core -> scanner   classification result
//	tagsakay/device/{deviceID}/command  core -> scanner   mode changes
//	tagsakay/scan/{status}              core -> any       classified scan events
//	tagsakay/security/{event}           core -> any       lockouts, rate limits
//	tagsakay/system/status              core (retained)   online/offline + LWT
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Broker ACLs should restrict each scanner to its own device topics
//   - Scanners still present their API key; the broker ACL is not trusted alone
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.ScanEvent("success"), event, false)
package mqtt
