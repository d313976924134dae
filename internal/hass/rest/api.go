package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nerrad567/habridge-core/internal/hass"
)

// BackendConfig is the subset of GET /config the bridge uses.
type BackendConfig struct {
	Version      string   `json:"version"`
	LocationName string   `json:"location_name"`
	TimeZone     string   `json:"time_zone"`
	State        string   `json:"state"`
	Components   []string `json:"components"`
}

// ServiceDomain is one entry of GET /services.
type ServiceDomain struct {
	Domain   string                     `json:"domain"`
	Services map[string]json.RawMessage `json:"services"`
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (Payload, error) {
	return c.Execute(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (Payload, error) {
	return c.Execute(ctx, http.MethodPost, path, body)
}

// CallService invokes <domain>.<service> with data. The target entity is
// logged on success.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	path := "services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	if _, err := c.Post(ctx, path, data); err != nil {
		return err
	}

	target := any("?")
	if eid, ok := data["entity_id"]; ok {
		target = eid
	}
	c.logger.Info("service called", "service", domain+"."+service, "entity_id", fmt.Sprint(target))
	return nil
}

// GetState returns the current state of one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*hass.State, error) {
	var st hass.State
	if err := c.getJSON(ctx, "states/"+url.PathEscape(entityID), &st); err != nil {
		return nil, err
	}
	if st.EntityID == "" {
		return nil, fmt.Errorf("%w: state of %s has no entity_id", ErrUnexpectedPayload, entityID)
	}
	return &st, nil
}

// ListStates returns every entity state.
func (c *Client) ListStates(ctx context.Context) ([]hass.State, error) {
	var states []hass.State
	if err := c.getJSON(ctx, "states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// ListServices returns every service domain the hub exposes.
func (c *Client) ListServices(ctx context.Context) ([]ServiceDomain, error) {
	var domains []ServiceDomain
	if err := c.getJSON(ctx, "services", &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// GetConfig returns the hub's configuration. Readiness probing uses it
// because it is cheap and fails while the hub is still starting.
func (c *Client) GetConfig(ctx context.Context) (*BackendConfig, error) {
	var cfg BackendConfig
	if err := c.getJSON(ctx, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	payload, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUnexpectedPayload, path, err)
	}
	return nil
}
