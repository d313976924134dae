// Package rest is the resilient request/response client for the hub's REST API.
//
// Every call makes up to three attempts. Status 200 and 201 succeed; a body
// that is empty or not JSON is normalised to an empty object. Any other 4xx
// except 429 fails at once. A 429, a 5xx, a timeout or a connection failure
// is retried after 1s, 2s, ... and twice that when the hub answered 502 or
// 503, which it does while booting.
//
// The bearer token is sent on every request and never logged.
//
//	client := rest.New(cfg.Hass.BaseURL, cfg.Hass.Token, rest.WithLogger(log))
//	if err := client.CallService(ctx, "light", "turn_on", map[string]any{"entity_id": "light.kitchen"}); err != nil {
//	    return err // err.Error() is e.g. "HTTP 400: ..." or "Request timed out"
//	}
package rest
