// Package config handles configuration loading for orchat-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ORCHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/orchat/gateway.yaml
//  3. ~/.config/orchat/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	openrouter:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "/var/lib/orchat/gateway.db"
//
//	auth:
//	  jwt_secret: "${ORCHAT_JWT_SECRET}"   # at least 32 bytes
//
//	openrouter:
//	  api_key: "${OPENROUTER_API_KEY}"
//	  base_url: "https://openrouter.ai/api/v1"
//	  rank_url: "https://example.com"      # HTTP-Referer
//	  rank_name: "orchat"                  # X-Title
//	  timeout: "60s"
//
//	models:
//	  catalog_file: "/etc/orchat/models.toml"  # built-in list when empty
//	  default: "openai/gpt-4o-mini"
//	  public: ["meta-llama/llama-3.1-8b-instruct:free"]
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
