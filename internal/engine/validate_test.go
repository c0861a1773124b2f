package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `{
	"inbounds": [{"type": "tun", "tag": "tun-in"}],
	"outbounds": [
		{"type": "vless", "tag": "proxy", "server": "example.com", "server_port": 443},
		{"type": "direct", "tag": "direct"},
		{"type": "block", "tag": "block"}
	]
}`

func TestValidateConfigAccepted(t *testing.T) {
	require.NoError(t, ValidateConfig(minimalConfig))
}

func TestValidateConfigEmpty(t *testing.T) {
	assert.Error(t, ValidateConfig(""))
}

func TestValidateConfigMalformedJSON(t *testing.T) {
	assert.Error(t, ValidateConfig(`{"inbounds": [`))
}

func TestValidateConfigMissingSections(t *testing.T) {
	assert.Error(t, ValidateConfig(`{"outbounds": []}`), "missing inbounds")
	assert.Error(t, ValidateConfig(`{"inbounds": []}`), "missing outbounds")
}

func TestValidateConfigSectionNotArray(t *testing.T) {
	assert.Error(t, ValidateConfig(`{"inbounds": {}, "outbounds": []}`))
}

func TestValidateConfigUnsupportedProtocol(t *testing.T) {
	cfg := `{
		"inbounds": [{"type": "tun"}],
		"outbounds": [{"type": "wireguard", "tag": "wg"}]
	}`
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wireguard")
}

func TestValidateConfigMetaTypesAllowed(t *testing.T) {
	cfg := `{
		"inbounds": [{"type": "tun"}],
		"outbounds": [{"type": "socks"}],
		"dns": {"servers": [{"type": "dns"}]}
	}`
	assert.NoError(t, ValidateConfig(cfg))
}

func TestSupportedProtocols(t *testing.T) {
	protos := SupportedProtocols()
	assert.Contains(t, protos, "vless")
	assert.Contains(t, protos, "shadowsocks")
	assert.NotContains(t, protos, "tun")
}
