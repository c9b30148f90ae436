// Package influxdb records sensor history in InfluxDB v2.
//
// Every reading the bridge accepts becomes one point of the sensor_readings
// measurement, tagged with the device ID and display name:
//
//	sensor_readings,device_id=node1,name=Kitchen humidity=48,rssi=-71i,temperature=21.5
//
// Bridge counters are sampled into bridge_stats on the diagnostics
// interval. History is optional: with InfluxDB disabled, Connect returns
// ErrDisabled and the bridge runs without it.
package influxdb
