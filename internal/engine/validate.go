package engine

import (
	"encoding/json"
	"fmt"
)

// SupportedProtocols lists the proxy protocol identifiers the engine
// accepts in a configuration.
func SupportedProtocols() []string {
	return []string{"vless", "vmess", "trojan", "shadowsocks", "http", "socks"}
}

// Infrastructure meta-types that appear as "type" fields but are not
// proxy protocols.
var metaTypes = map[string]bool{
	"tun":    true,
	"direct": true,
	"block":  true,
	"dns":    true,
}

// ValidateConfig performs the coarse structural validation applied
// before the configuration blob is handed to the engine: it must be a
// JSON object with inbounds and outbounds arrays, and every declared
// "type" field must be a supported protocol or a known meta-type. The
// configuration is otherwise opaque.
func ValidateConfig(configJSON string) error {
	if configJSON == "" {
		return fmt.Errorf("configuration is empty")
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(configJSON), &root); err != nil {
		return fmt.Errorf("configuration is not valid JSON: %w", err)
	}

	for _, section := range []string{"inbounds", "outbounds"} {
		raw, ok := root[section]
		if !ok {
			return fmt.Errorf("configuration missing required section %q", section)
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("configuration section %q is not an array: %w", section, err)
		}
	}

	allowed := make(map[string]bool, len(metaTypes))
	for _, p := range SupportedProtocols() {
		allowed[p] = true
	}
	for t := range metaTypes {
		allowed[t] = true
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(configJSON), &doc); err != nil {
		return fmt.Errorf("configuration is not valid JSON: %w", err)
	}
	if bad := findUnsupportedType(doc, allowed); bad != "" {
		return fmt.Errorf("unsupported protocol type %q", bad)
	}

	return nil
}

// findUnsupportedType walks the decoded document looking for "type"
// string fields outside the allow-list. Returns the first offender or
// "".
func findUnsupportedType(node interface{}, allowed map[string]bool) string {
	switch v := node.(type) {
	case map[string]interface{}:
		if t, ok := v["type"].(string); ok && !allowed[t] {
			return t
		}
		for _, child := range v {
			if bad := findUnsupportedType(child, allowed); bad != "" {
				return bad
			}
		}
	case []interface{}:
		for _, child := range v {
			if bad := findUnsupportedType(child, allowed); bad != "" {
				return bad
			}
		}
	}
	return ""
}
