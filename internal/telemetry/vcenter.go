package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// VCenterClient talks to the vCenter Automation REST API. Only the two calls
// billing needs are implemented; every request carries the configured
// per-call timeout so a slow hypervisor surfaces as a per-VM failure.
type VCenterClient struct {
	endpoint string
	user     string
	password string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger

	mu      sync.Mutex
	session string
}

func NewVCenterClient(endpoint, user, password string, timeout time.Duration, log *zap.Logger) (*VCenterClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || user == "" {
		return nil, ErrInvalidConfig
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VCenterClient{
		endpoint: endpoint,
		user:     user,
		password: password,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("telemetry.vcenter"),
	}, nil
}

func (c *VCenterClient) PowerState(ctx context.Context, instanceID string) (PowerState, error) {
	if instanceID == "" {
		return "", ErrInstanceUnknown
	}

	var resp struct {
		State string `json:"state"`
	}
	path := fmt.Sprintf("/api/vcenter/vm/%s/power", instanceID)
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}

	switch resp.State {
	case "POWERED_ON":
		return PoweredOn, nil
	case "POWERED_OFF":
		return PoweredOff, nil
	case "SUSPENDED":
		return Suspended, nil
	default:
		return "", fmt.Errorf("unexpected power state %q for vm %s", resp.State, instanceID)
	}
}

func (c *VCenterClient) HoursPoweredOn(ctx context.Context, month time.Month, year int, instanceID string) (int, error) {
	if instanceID == "" {
		return 0, ErrInstanceUnknown
	}

	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var resp struct {
		UptimeSeconds int64 `json:"uptime_seconds"`
	}
	path := fmt.Sprintf("/api/stats/vm/%s/uptime?start=%s&end=%s",
		instanceID,
		start.Format(time.RFC3339),
		end.Format(time.RFC3339),
	)
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}

	hours := int(resp.UptimeSeconds / 3600)
	if max := HoursInMonth(year, month); hours > max {
		hours = max
	}
	return hours, nil
}

func (c *VCenterClient) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("vmware-api-session-id", session)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.session = ""
		c.mu.Unlock()
		return fmt.Errorf("vcenter session expired")
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrInstanceUnknown
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vcenter returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *VCenterClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/session", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vcenter login returned status %d", resp.StatusCode)
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	c.session = token
	c.log.Debug("vcenter session established")
	return token, nil
}
