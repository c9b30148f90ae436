// Package packet validates decrypted radio payloads and turns them into
// device messages.
//
// A payload is a JSON object:
//
//	{"k":"xy","id":"garage","t":21.4,"hu":48,"b":87,"l":120,"m":"on","c":true}
//
// "k" (shared secret) and "id" are required. All other fields are optional
// and their presence decides the capabilities of a new device. Checks run in
// a fixed order: parse, secret, identifier.
package packet
