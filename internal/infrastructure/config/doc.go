// Package config handles loading and validating TagSakay Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (TAGSAKAY_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Signing secrets (JWT and session) must be set, ideally via environment variables
//   - The config file should have restricted permissions (0600)
//   - The hasher iteration ceiling bounds the work any stored hash can demand
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
