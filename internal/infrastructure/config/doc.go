// Package config loads habridge's YAML configuration.
//
// Values are layered: built-in defaults, then the YAML file, then HABRIDGE_*
// environment variables. Inside a Home Assistant add-on the supervisor's
// SUPERVISOR_TOKEN is picked up as the hub token unless HABRIDGE_HASS_TOKEN
// is set. Validate reports every problem in one error.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := config.Seconds(cfg.Hass.RequestTimeout)
package config
