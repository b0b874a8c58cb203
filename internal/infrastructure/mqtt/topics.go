package mqtt

import "fmt"

// Topic scheme: xcomfort/{category}/{entity}/{id}.
//
// State topics are retained so new subscribers see the current state;
// command topics are not.
const (
	// TopicPrefix is the base for all exporter topics.
	TopicPrefix = "xcomfort"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "xcomfort/system"
)

// Topics provides builders for the exporter's MQTT topics. Using these
// helpers keeps topic naming consistent across publisher and consumers.
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: xcomfort/state/device/7
func (Topics) DeviceState(deviceID int) string {
	return fmt.Sprintf("%s/state/device/%d", TopicPrefix, deviceID)
}

// RoomState returns the retained state topic for a room.
//
// Example: xcomfort/state/room/1
func (Topics) RoomState(roomID int) string {
	return fmt.Sprintf("%s/state/room/%d", TopicPrefix, roomID)
}

// DeviceCommand returns the command topic for a device.
//
// Example: xcomfort/command/device/7
func (Topics) DeviceCommand(deviceID int) string {
	return fmt.Sprintf("%s/command/device/%d", TopicPrefix, deviceID)
}

// RoomCommand returns the command topic for a room.
//
// Example: xcomfort/command/room/1
func (Topics) RoomCommand(roomID int) string {
	return fmt.Sprintf("%s/command/room/%d", TopicPrefix, roomID)
}

// CommandSubscribe returns the wildcard pattern covering all command
// topics.
func (Topics) CommandSubscribe() string {
	return TopicPrefix + "/command/#"
}

// SystemStatus returns the exporter's status topic (online/offline/LWT).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
