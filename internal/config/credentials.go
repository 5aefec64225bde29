package config

import (
	"encoding/json"
	"os"
	"strings"
)

// CanonicalKeys lists the provider credential names the fetch layer knows.
// Absence of a key is not an error: the keyed fetcher reports a permanent
// "missing credential" failure and its chain advances.
var CanonicalKeys = []string{
	"alpha_vantage",
	"twelve_data",
	"financial_modeling_prep",
	"trading_economics",
	"finnhub",
	"sosovalue",
	"coinglass",
	"farside_cookies",
}

// Credentials is an opaque provider-name -> secret mapping.
type Credentials map[string]string

// Get returns the credential for name, trimmed, and whether it is non-empty.
func (c Credentials) Get(name string) (string, bool) {
	v := strings.TrimSpace(c[name])
	return v, v != ""
}

// LoadCredentials merges, in increasing precedence: a JSON file referenced by
// API_KEYS_PATH, an inline API_KEYS JSON payload, and loose environment
// variables matching the canonical key names (either case).
func LoadCredentials() Credentials {
	creds := Credentials{}

	if path := os.Getenv("API_KEYS_PATH"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			mergeJSON(creds, data)
		}
	}
	if raw := os.Getenv("API_KEYS"); raw != "" {
		mergeJSON(creds, []byte(raw))
	}
	for _, key := range CanonicalKeys {
		if _, ok := creds.Get(key); ok {
			continue
		}
		if v := os.Getenv(key); v != "" {
			creds[key] = v
		} else if v := os.Getenv(strings.ToUpper(key)); v != "" {
			creds[key] = v
		}
	}

	// Trading Economics may arrive as split user/password entries.
	if _, ok := creds.Get("trading_economics"); !ok {
		user := os.Getenv("TRADING_ECONOMICS_USER")
		pass := os.Getenv("TRADING_ECONOMICS_PASSWORD")
		if user != "" && pass != "" {
			creds["trading_economics"] = user + ":" + pass
		}
	}
	return creds
}

func mergeJSON(creds Credentials, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			creds[key] = v
		case map[string]any:
			for _, field := range []string{"api_key", "key", "token", "secret"} {
				if s, ok := v[field].(string); ok && strings.TrimSpace(s) != "" {
					creds[key] = s
					break
				}
			}
		}
	}
}
