// Package accessory binds device records to accessories of a home-automation
// accessory runtime.
//
// Every active record owns at most one accessory, referenced by the runtime's
// accessory ID (the record's AccessoryID). The runtime reuses IDs: deleting
// an accessory and adding another hands the new one the freed ID, and paired
// controllers that cached the old accessory mis-present the new one. Rebind
// therefore parks a placeholder on the freed ID while the replacement is
// added.
//
// Database is an in-process Runtime. It keeps the accessory tree the bridge
// advertises and reproduces the runtime's ID allocation.
//
// Resync converges the runtime on the registry after startup or an
// interrupted rebind: unreferenced accessories are deleted and unbound
// records bound.
package accessory
