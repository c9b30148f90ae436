// Package radio receives LoRa frames for the bridge.
//
// The radio itself is driven by a packet forwarder (an SX127x/SX126x
// concentrator daemon or a microcontroller on a serial-to-UDP link) that
// forwards every received frame to the bridge as one UDP datagram:
//
//	offset 0  int16 big-endian  RSSI in dBm
//	offset 2  0..255 bytes      LoRa payload
//
// Frames are queued for the engine loop, which drains them with Poll.
package radio
