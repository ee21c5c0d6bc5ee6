package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every TagSakay topic.
const TopicPrefix = "tagsakay"

// Device topic kinds, the last segment of tagsakay/device/{deviceID}/{kind}.
const (
	KindScan    = "scan"
	KindStatus  = "status"
	KindResult  = "result"
	KindCommand = "command"
)

// Topics provides builders for TagSakay MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceScan("AABBCCDDEEFF")   // tagsakay/device/AABBCCDDEEFF/scan
//	topics.ScanEvent("success")         // tagsakay/scan/success
type Topics struct{}

// DeviceScan is where a scanner publishes tag reads.
func (Topics) DeviceScan(deviceID string) string {
	return deviceTopic(deviceID, KindScan)
}

// DeviceStatus is where a scanner publishes online/offline presence.
func (Topics) DeviceStatus(deviceID string) string {
	return deviceTopic(deviceID, KindStatus)
}

// DeviceResult is where the core answers a scan for the scanner's display.
func (Topics) DeviceResult(deviceID string) string {
	return deviceTopic(deviceID, KindResult)
}

// DeviceCommand carries mode changes (registration mode, scan mode) to a scanner.
func (Topics) DeviceCommand(deviceID string) string {
	return deviceTopic(deviceID, KindCommand)
}

// ScanEvent is the fan-out topic for classified scans, one per status.
//
// Example: tagsakay/scan/unauthorized
func (Topics) ScanEvent(status string) string {
	return fmt.Sprintf("%s/scan/%s", TopicPrefix, status)
}

// SecurityEvent carries lockouts and rate-limit hits for external monitors.
func (Topics) SecurityEvent(eventType string) string {
	return fmt.Sprintf("%s/security/%s", TopicPrefix, strings.ToLower(eventType))
}

// SystemStatus is the retained core presence topic (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllDeviceScans matches scan reads from every device.
func (Topics) AllDeviceScans() string {
	return deviceTopic("+", KindScan)
}

// AllDeviceStatus matches presence messages from every device.
func (Topics) AllDeviceStatus() string {
	return deviceTopic("+", KindStatus)
}

// AllScanEvents matches every classified scan event.
func (Topics) AllScanEvents() string {
	return TopicPrefix + "/scan/#"
}

func deviceTopic(deviceID, kind string) string {
	return fmt.Sprintf("%s/device/%s/%s", TopicPrefix, deviceID, kind)
}

// ParseDeviceTopic splits tagsakay/device/{deviceID}/{kind}. ok is false for
// any other shape, including wildcard or empty device ids.
func ParseDeviceTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "device" {
		return "", "", false
	}
	deviceID, kind = parts[2], parts[3]
	if deviceID == "" || deviceID == "+" || deviceID == "#" || kind == "" {
		return "", "", false
	}
	return deviceID, kind, true
}
