// Package config handles configuration loading for loom-gateway.
//
// Configuration is loaded from YAML files with ${VAR} environment variable
// expansion and duration-string parsing. Fields absent from the file keep
// the defaults from Default(). Example:
//
//	server:
//	  http_addr: "127.0.0.1:7690"
//	  auth_token: "${LOOM_AUTH_TOKEN}"
//	sessions:
//	  grace_period: "5m"
//	  sweep_interval: "15s"
//	client:
//	  initial_delay: "250ms"
//	  max_delay: "10s"
//	  backoff_factor: 2.0
//	  max_retries: 5
//	database:
//	  path: "loom.db"
//	logging:
//	  level: "info"
//	  format: "text"
package config
