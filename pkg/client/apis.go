package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

// NUTState is the daemon's connection state plus the static variables
// last read from the UPS.
type NUTState struct {
	State      string            `json:"state"`
	StaticData map[string]string `json:"staticData"`
}

// VersionInfo is the daemon build metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// TestConnectionResult summarizes a wizard connection probe.
type TestConnectionResult struct {
	VariableCount int    `json:"variableCount"`
	Model         string `json:"model,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (c *Client) GetSettings() (*config.Config, error) {
	ret, err := c.Get("/settings")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get settings")
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(ret), &cfg); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal settings")
	}
	return &cfg, nil
}

func (c *Client) UpdateSettings(p config.Patch) (*config.Config, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	ret, err := c.Patch("/settings", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to update settings")
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(ret), &cfg); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal merged settings")
	}
	return &cfg, nil
}

func (c *Client) GetTelemetryColumns() ([]string, error) {
	ret, err := c.Get("/telemetry/columns")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get telemetry columns")
	}
	var cols []string
	if err := json.Unmarshal([]byte(ret), &cols); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry columns")
	}
	return cols, nil
}

// GetLatestTelemetry returns the newest row, or nil when the database
// is still empty.
func (c *Client) GetLatestTelemetry() (*telemetry.Point, error) {
	ret, err := c.Get("/telemetry/latest")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get latest telemetry")
	}
	if strings.TrimSpace(ret) == "" {
		return nil, nil
	}
	var p telemetry.Point
	if err := json.Unmarshal([]byte(ret), &p); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal latest telemetry")
	}
	return &p, nil
}

func (c *Client) QueryTelemetryRange(start, end string, columns []string, maxPoints int) ([]telemetry.Point, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	if len(columns) > 0 {
		q.Set("columns", strings.Join(columns, ","))
	}
	if maxPoints > 0 {
		q.Set("maxPoints", strconv.Itoa(maxPoints))
	}

	ret, err := c.Get("/telemetry/range?" + q.Encode())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to query telemetry range")
	}
	var points []telemetry.Point
	if err := json.Unmarshal([]byte(ret), &points); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry range")
	}
	return points, nil
}

func (c *Client) GetTelemetryMinMax(start, end string) (map[string]telemetry.MinMax, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)

	ret, err := c.Get("/telemetry/minmax?" + q.Encode())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get telemetry min/max")
	}
	var mm map[string]telemetry.MinMax
	if err := json.Unmarshal([]byte(ret), &mm); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry min/max")
	}
	return mm, nil
}

func (c *Client) GetNUTState() (*NUTState, error) {
	ret, err := c.Get("/nut/state")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get nut state")
	}
	var st NUTState
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal nut state")
	}
	return &st, nil
}

// TestConnection asks the daemon to probe a candidate NUT server.
func (c *Client) TestConnection(host string, port int, username, password, upsName string, timeoutMs int) (*TestConnectionResult, error) {
	payload, err := json.Marshal(map[string]any{
		"host":      host,
		"port":      port,
		"username":  username,
		"password":  password,
		"upsName":   upsName,
		"timeoutMs": timeoutMs,
	})
	if err != nil {
		return nil, err
	}

	ret, err := c.Post("/wizard/test-connection", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "connection test failed")
	}
	var res TestConnectionResult
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal connection test result")
	}
	return &res, nil
}

// WriteLocalSetup asks the daemon to write NUT config files for a
// locally hosted driver and upsd.
func (c *Client) WriteLocalSetup(folder, upsName, driver, port string) error {
	payload, err := json.Marshal(map[string]string{
		"folder":  folder,
		"upsName": upsName,
		"driver":  driver,
		"port":    port,
	})
	if err != nil {
		return err
	}
	if _, err := c.Post("/wizard/local-setup", string(payload)); err != nil {
		return pkgerrors.Wrapf(err, "failed to write local NUT setup")
	}
	return nil
}

func (c *Client) CompleteWizard() (*config.Config, error) {
	ret, err := c.Post("/wizard/complete", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to complete wizard")
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(ret), &cfg); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal settings")
	}
	return &cfg, nil
}

func (c *Client) TestCriticalAlert() error {
	if _, err := c.Post("/critical-alert/test", ""); err != nil {
		return pkgerrors.Wrapf(err, "failed to trigger test alert")
	}
	return nil
}

func (c *Client) GetVersion() (*VersionInfo, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}
	var v VersionInfo
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return &v, nil
}
