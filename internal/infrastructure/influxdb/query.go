package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// maxHistoryPoints caps the rows returned by History.
const maxHistoryPoints = 1000

// Sample is one historical field value.
type Sample struct {
	Time  time.Time `json:"time"`
	Field string    `json:"field"`
	Value any       `json:"value"`
}

// History returns the readings of one device recorded since the given
// time, oldest first.
func (c *Client) History(ctx context.Context, deviceID string, since time.Time) ([]Sample, error) {
	if !c.IsConnected() || c.client == nil {
		return nil, ErrNotConnected
	}

	result, err := c.client.QueryAPI(c.org).Query(ctx, historyQuery(c.bucket, deviceID, since))
	if err != nil {
		return nil, fmt.Errorf("influxdb history query: %w", err)
	}
	defer result.Close()

	var samples []Sample
	for result.Next() && len(samples) < maxHistoryPoints {
		rec := result.Record()
		samples = append(samples, Sample{Time: rec.Time(), Field: rec.Field(), Value: rec.Value()})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influxdb history query: %w", err)
	}
	return samples, nil
}

// historyQuery builds the Flux query for History. Identifiers are quoted
// with strconv.Quote, which produces valid Flux string literals.
func historyQuery(bucket, deviceID string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r.device_id == %s)
  |> sort(columns: ["_time"])
  |> limit(n: %d)`,
		strconv.Quote(bucket),
		since.UTC().Format(time.RFC3339),
		strconv.Quote(MeasurementReadings),
		strconv.Quote(deviceID),
		maxHistoryPoints,
	)
}
