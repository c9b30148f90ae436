// Package audit records configuration changes made through the management
// API: renames, sensor-type changes, deletions, simulated devices and
// credential changes. Entries live in the audit_log table and are listed
// most recent first.
//
// Radio traffic is not audited; the device registry keeps its own short
// activity log for that.
package audit
