// Package projection publishes the device registry to an MQTT broker in the
// Home Assistant discovery layout.
//
// Every device entity gets a retained config document under
// <prefix>/<component>/<gateway>_<device>/<capability>/config and a retained
// state under .../state. Entities are available only while both the device
// availability topic and the bridge status topic read "online"; the bridge
// status topic is also the broker-held Last Will, so a crashed bridge marks
// every entity unavailable.
//
// Discovery is sent when a device appears, is renamed or is retyped, and on
// every fresh broker connection. Readings never trigger discovery.
package projection
