// Package config provides configuration loading and validation for Hearth Core.
//
// Configuration is loaded in three layers, each overriding the last:
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. Environment variables (HEARTH_* pattern)
//
// The protocols.enabled list drives which protocol handlers the
// communication hub instantiates at startup. Names without a registered
// handler are skipped with a warning rather than failing startup.
//
// # Example
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Protocols.MQTT.Broker.Host)
package config
