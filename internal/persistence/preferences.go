package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/lora-bridge/internal/infrastructure/database"
)

// MaxKeyLength mirrors the key limit of embedded preference stores so that
// snapshots stay portable to the firmware layout.
const MaxKeyLength = 15

// Preferences is a namespaced key/value store with typed accessors, backed by
// the preferences table.
type Preferences struct {
	db        *database.DB
	namespace string
	now       func() time.Time
}

// NewPreferences opens the namespace on db. The schema must already be migrated.
func NewPreferences(db *database.DB, namespace string) *Preferences {
	return &Preferences{db: db, namespace: namespace, now: time.Now}
}

// Namespace returns the namespace name.
func (p *Preferences) Namespace() string { return p.namespace }

// Load reads every entry of the namespace.
func (p *Preferences) Load(ctx context.Context) (*Values, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT key, value FROM preferences WHERE namespace = ?", p.namespace)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	v := &Values{entries: make(map[string][]byte)}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		v.entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating preferences: %w", err)
	}
	return v, nil
}

// Update runs fn with a Writer inside one transaction. Either every write
// lands or none does.
func (p *Preferences) Update(ctx context.Context, fn func(w *Writer) error) error {
	return p.db.WithTx(ctx, func(tx *sql.Tx) error {
		w := &Writer{ctx: ctx, tx: tx, namespace: p.namespace, stamp: p.now().UTC().Format(time.RFC3339)}
		return fn(w)
	})
}

// Clear removes every entry of the namespace.
func (p *Preferences) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM preferences WHERE namespace = ?", p.namespace); err != nil {
		return fmt.Errorf("clearing preferences: %w", err)
	}
	return nil
}

// Writer stages typed writes within a Preferences transaction.
type Writer struct {
	ctx       context.Context
	tx        *sql.Tx
	namespace string
	stamp     string
}

func (w *Writer) put(key string, value []byte) error {
	if key == "" || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	_, err := w.tx.ExecContext(w.ctx, `
		INSERT INTO preferences (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		w.namespace, key, value, w.stamp)
	if err != nil {
		return fmt.Errorf("writing preference %s: %w", key, err)
	}
	return nil
}

// PutString stores a string.
func (w *Writer) PutString(key, value string) error { return w.put(key, []byte(value)) }

// PutBytes stores raw bytes.
func (w *Writer) PutBytes(key string, value []byte) error {
	return w.put(key, append([]byte{}, value...))
}

// PutBool stores a boolean.
func (w *Writer) PutBool(key string, value bool) error {
	if value {
		return w.put(key, []byte("1"))
	}
	return w.put(key, []byte("0"))
}

// PutInt stores a signed integer.
func (w *Writer) PutInt(key string, value int) error {
	return w.put(key, []byte(strconv.Itoa(value)))
}

// PutUint8 stores a byte-sized unsigned integer.
func (w *Writer) PutUint8(key string, value uint8) error {
	return w.put(key, []byte(strconv.Itoa(int(value))))
}

// PutFloat stores a float.
func (w *Writer) PutFloat(key string, value float64) error {
	return w.put(key, []byte(strconv.FormatFloat(value, 'g', -1, 64)))
}

// Remove deletes key. Removing an absent key is not an error.
func (w *Writer) Remove(key string) error {
	_, err := w.tx.ExecContext(w.ctx,
		"DELETE FROM preferences WHERE namespace = ? AND key = ?", w.namespace, key)
	if err != nil {
		return fmt.Errorf("removing preference %s: %w", key, err)
	}
	return nil
}

// Values is a read-only copy of a namespace. Getters return the supplied
// default when a key is absent or cannot be decoded; undecodable keys are
// recorded and reported by Corrupt.
type Values struct {
	entries map[string][]byte
	corrupt []string
}

// Has reports whether key is present.
func (v *Values) Has(key string) bool {
	_, ok := v.entries[key]
	return ok
}

// Len returns the number of entries.
func (v *Values) Len() int { return len(v.entries) }

// Corrupt returns the keys that failed to decode so far.
func (v *Values) Corrupt() []string { return v.corrupt }

// String returns the string stored under key.
func (v *Values) String(key, def string) string {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	return string(raw)
}

// Bytes returns a copy of the bytes stored under key.
func (v *Values) Bytes(key string, def []byte) []byte {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	return append([]byte{}, raw...)
}

// Bool returns the boolean stored under key.
func (v *Values) Bool(key string, def bool) bool {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	switch string(raw) {
	case "1":
		return true
	case "0":
		return false
	default:
		v.corrupt = append(v.corrupt, key)
		return def
	}
}

// Int returns the integer stored under key.
func (v *Values) Int(key string, def int) int {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		v.corrupt = append(v.corrupt, key)
		return def
	}
	return n
}

// Uint8 returns the byte-sized integer stored under key.
func (v *Values) Uint8(key string, def uint8) uint8 {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(string(raw), 10, 8)
	if err != nil {
		v.corrupt = append(v.corrupt, key)
		return def
	}
	return uint8(n)
}

// Float returns the float stored under key.
func (v *Values) Float(key string, def float64) float64 {
	raw, ok := v.entries[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		v.corrupt = append(v.corrupt, key)
		return def
	}
	return f
}
