package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"go.uber.org/zap"
)

// Config holds InfluxDB v2 connection settings
type Config struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// Client writes meter readings and bypass verdicts as time-series points
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
	done     chan struct{}
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("[INFLUXDB CONNECTION FAILED] cannot reach %s: %w", cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.logErrors()

	logger.Info("influxdb connection established", zap.String("bucket", cfg.Bucket))
	return c, nil
}

func (c *Client) logErrors() {
	errs := c.writeAPI.Errors()
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Warn("influxdb write failed", zap.Error(err))
		}
	}
}

// WriteReading queues one meter reading
func (c *Client) WriteReading(r meter.Reading, receivedAt time.Time) {
	c.writeAPI.WritePoint(ReadingPoint(r, receivedAt))
}

// WriteVerdict queues one evaluated verdict of a pair
func (c *Client) WriteVerdict(pairID string, v bypass.Verdict, at time.Time) {
	c.writeAPI.WritePoint(VerdictPoint(pairID, v, at))
}

// Flush forces queued points out
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes and closes the client
func (c *Client) Close() {
	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
}

// ReadingPoint builds the meter_reading point of r. The reading timestamp is
// used when present.
func ReadingPoint(r meter.Reading, receivedAt time.Time) *write.Point {
	ts := receivedAt
	if r.Timestamp > 0 {
		ts = time.Unix(r.Timestamp, 0)
	}
	return write.NewPoint(
		"meter_reading",
		map[string]string{
			"pair_id":  r.PairID,
			"role":     string(r.Role),
			"meter_id": r.MeterID,
			"status":   string(r.Status),
		},
		map[string]interface{}{
			"voltage":        r.Voltage,
			"current":        r.Current,
			"power":          r.Power,
			"energy":         r.Energy,
			"power_factor":   r.PowerFactor,
			"frequency":      r.Frequency,
			"pole_energy":    r.PoleEnergy,
			"pole_current":   r.PoleCurrent(),
			"theft_detected": r.TheftDetected,
		},
		ts,
	)
}

// VerdictPoint builds the bypass_verdict point of a pair
func VerdictPoint(pairID string, v bypass.Verdict, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"active":              v.Active,
		"bypassed_energy_kwh": v.BypassedEnergyKWh,
		"estimated_loss":      v.EstimatedLoss.InexactFloat64(),
		"client_current":      v.ClientCurrent,
		"pole_current":        v.PoleCurrent,
	}
	if v.CurrentRatio.Defined {
		fields["current_ratio"] = v.CurrentRatio.Value
	}
	return write.NewPoint(
		"bypass_verdict",
		map[string]string{"pair_id": pairID},
		fields,
		at,
	)
}
