// Package persistence stores the bridge's durable state: the active device
// set, the UI-editable settings, the accessory setup code and the UI
// credential hash.
//
// All state lives in one preference namespace (Namespace) of the SQLite
// preferences table, using the flat key layout of embedded preference
// stores:
//
//	schema_version            1
//	dev_count                 K
//	dev<N>_id, dev<N>_name    identity, N in 0..K-1
//	dev<N>_temp ... _contact  capability flags
//	dev<N>_ctype, _mtype      sensor variants
//	lora_*, enc_*, gw_key     radio, cipher and secret settings
//	auth_*, hk_code           UI credential and setup code
//	mqtt_*                    broker connection parameters
//
// Device snapshots are written only when the set of devices or their
// presentation changes (create, rename, retype, remove), never for readings.
package persistence
