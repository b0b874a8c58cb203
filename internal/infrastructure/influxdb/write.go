package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDevicePower records a metered outlet's power draw.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDevicePower(deviceID int, name string, powerWatts float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_power",
		map[string]string{
			"device_id": itoa(deviceID),
			"name":      name,
		},
		map[string]interface{}{
			"power_watts": powerWatts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRoomClimate records a room's climate snapshot: temperature,
// humidity, setpoint and heating power. Unknown readings are omitted by
// passing nil.
func (c *Client) WriteRoomClimate(roomID int, name string, temperature, humidity, setpoint *float64, powerWatts float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"power_watts": powerWatts,
	}
	if temperature != nil {
		fields["temperature_c"] = *temperature
	}
	if humidity != nil {
		fields["humidity_pct"] = *humidity
	}
	if setpoint != nil {
		fields["setpoint_c"] = *setpoint
	}

	point := write.NewPoint(
		"room_climate",
		map[string]string{
			"room_id": itoa(roomID),
			"name":    name,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSensorReading records a standalone sensor measurement, such as an
// RcTouch panel's temperature or humidity.
func (c *Client) WriteSensorReading(deviceID int, name, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor",
		map[string]string{
			"device_id":   itoa(deviceID),
			"name":        name,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
