package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfigDebugOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "debug_conf.json", `{"gateway_conf":{"gateway_ID":"00800000deadbeef","server_address":"debug.example"}}`)
	writeFile(t, dir, "global_conf.json", `{"gateway_conf":{"server_address":"global.example"}}`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, "debug.example", cfg.Gateway.ServerAddress)
}

func TestLoadConfigGlobalPlusLocalOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "global_conf.json", `{"gateway_conf":{"gateway_ID":"00800000deadbeef","server_address":"global.example","serv_port_up":1680,"stat_interval":30}}`)
	writeFile(t, dir, "local_conf.json", `{"gateway_conf":{"server_address":"local.example"}}`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, "local.example", cfg.Gateway.ServerAddress)
	require.Equal(t, 1680, cfg.Gateway.ServPortUp)
	require.Equal(t, 30, cfg.Gateway.StatInterval)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "global_conf.json", `{"gateway_conf":{"gateway_ID":"00800000deadbeef"}}`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Gateway.KeepaliveInterval)
	require.Equal(t, PullTimeoutMSDefault, cfg.Gateway.PullTimeoutMS)
	require.Equal(t, 128, cfg.Gateway.BeaconPeriod)
	require.Equal(t, 869525000, cfg.Gateway.BeaconFreqHz)
}

func TestLoadConfigExplicitGatewayID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "global_conf.json", `{"gateway_conf":{"gateway_ID":"00800000DEADBEEF"}}`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	want, _ := hex.DecodeString("00800000DEADBEEF")
	require.Equal(t, EUI64FromBytes(want), cfg.GatewayEUI())
}

func TestLoadConfigRejectsMalformedGatewayID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "global_conf.json", `{"gateway_conf":{"gateway_ID":"not-hex"}}`)

	_, err := LoadConfig(dir)
	require.Error(t, err)
}

func TestResolvedServersFallsBackToSingleTriple(t *testing.T) {
	g := GatewayConf{ServerAddress: "example.com", ServPortUp: 1680, ServPortDown: 1681}
	servers := g.resolvedServers()
	require.Len(t, servers, 1)
	require.Equal(t, "example.com", servers[0].Address)
}

func TestResolvedServersPrefersExplicitList(t *testing.T) {
	g := GatewayConf{
		Servers:       []ServerConfig{{Address: "a.example"}, {Address: "b.example"}},
		ServerAddress: "fallback.example",
	}
	servers := g.resolvedServers()
	require.Len(t, servers, 2)
}

func TestForwardCRCDefaults(t *testing.T) {
	g := GatewayConf{}
	require.True(t, g.forwardCRCValid())
	require.False(t, g.forwardCRCError())
	require.False(t, g.forwardCRCDisabled())
}
