// Package config handles configuration loading for kefu-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and duration parsing.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from KEFU_RELAY_CONFIG environment variable
//  2. ~/.config/kefu-relay/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	wecom:
//	  corp_secret: "${WECOM_CORP_SECRET}"
//
// A .env file in the working directory is loaded first if present. Unset
// variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  auth_window: "5s"
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  listen_addr: "0.0.0.0:8080"   # webhook, websocket and health endpoints
//
// WeCom customer-service account:
//
//	wecom:
//	  corp_id: "ww..."
//	  corp_secret: "${WECOM_CORP_SECRET}"
//	  callback_token: "${WECOM_CALLBACK_TOKEN}"
//	  encoding_aes_key: "${WECOM_ENCODING_AES_KEY}"  # exactly 43 characters
//	  open_kf_id: "wk..."
//	  contact_scene: 1
//
// Gateway websocket endpoint:
//
//	gateway:
//	  auth_secret: "${GATEWAY_AUTH_SECRET}"
//	  auth_window: "5s"
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "10s"
//
// Database:
//
//	database:
//	  path: "/var/lib/kefu-relay/relay.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - All WeCom credentials present
//   - encoding_aes_key length (exactly 43 characters)
//   - Gateway auth secret present
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/kefu-relay/relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
