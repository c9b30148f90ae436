// Package config handles loading and validating the LoRa bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults reproduce the factory settings of the bridge firmware:
// 868 MHz, SF8, 125 kHz, CR 4/5, preamble 6, sync word 0x12, XOR cipher with
// key 4b a3 3f 9c and gateway key "xy".
//
// Security Considerations:
//   - Sensitive values (MQTT password, cipher key) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The default gateway key and cipher key are well known and must be changed
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.Name)
package config
