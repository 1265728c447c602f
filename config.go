// Configuration loading (spec.md §6, expanded in SPEC_FULL.md §2.3):
// layered JSON, debug_conf.json overriding everything else, else
// global_conf.json optionally overlaid by local_conf.json.
package main

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ServerConfig is one entry of gateway_conf.servers.
type ServerConfig struct {
	Address  string `json:"server_address"`
	PortUp   int    `json:"serv_port_up"`
	PortDown int    `json:"serv_port_down"`
	Enabled  *bool  `json:"serv_enabled,omitempty"`
}

func (s ServerConfig) enabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GatewayConf is the interpreted half of the config file (spec.md §6).
type GatewayConf struct {
	GatewayID string `json:"gateway_ID"`

	Servers []ServerConfig `json:"servers"`
	// Fallback single-server triple, used when Servers is empty.
	ServerAddress string `json:"server_address"`
	ServPortUp    int    `json:"serv_port_up"`
	ServPortDown  int    `json:"serv_port_down"`

	KeepaliveInterval int `json:"keepalive_interval"`
	StatInterval      int `json:"stat_interval"`
	PushTimeoutMS     int `json:"push_timeout_ms"`
	PullTimeoutMS     int `json:"pull_timeout_ms"`

	ForwardCRCValid    *bool `json:"forward_crc_valid,omitempty"`
	ForwardCRCError    *bool `json:"forward_crc_error,omitempty"`
	ForwardCRCDisabled *bool `json:"forward_crc_disabled,omitempty"`

	GPSTTYPath string `json:"gps_tty_path"`

	RefLatitude  float64 `json:"ref_latitude"`
	RefLongitude float64 `json:"ref_longitude"`
	RefAltitude  float64 `json:"ref_altitude"`

	GPS     *bool `json:"gps,omitempty"`
	FakeGPS *bool `json:"fake_gps,omitempty"`

	BeaconPeriod int `json:"beacon_period"`
	BeaconOffset int `json:"beacon_offset"`
	BeaconFreqHz int `json:"beacon_freq_hz"`

	Upstream    *bool `json:"upstream,omitempty"`
	Downstream  *bool `json:"downstream,omitempty"`
	Ghoststream *bool `json:"ghoststream,omitempty"`
	Radiostream *bool `json:"radiostream,omitempty"`
	Statusstream *bool `json:"statusstream,omitempty"`
	Beacon      *bool `json:"beacon,omitempty"`
	Monitor     *bool `json:"monitor,omitempty"`

	AutoquitThreshold int `json:"autoquit_threshold"`

	Platform      string `json:"platform"`
	ContactEmail  string `json:"contact_email"`
	Description   string `json:"description"`

	MonitorBrokerURL string   `json:"monitor_broker_url"`
	MonitorTopic     string   `json:"monitor_topic"`
	SystemCalls      []string `json:"system_calls"`

	MetricsAddr string `json:"metrics_addr"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (g *GatewayConf) applyDefaults() {
	if g.KeepaliveInterval == 0 {
		g.KeepaliveInterval = 10
	}
	if g.StatInterval == 0 {
		g.StatInterval = 30
	}
	if g.PushTimeoutMS == 0 {
		g.PushTimeoutMS = 100
	}
	if g.PullTimeoutMS == 0 {
		g.PullTimeoutMS = PullTimeoutMSDefault
	}
	if g.BeaconPeriod == 0 {
		g.BeaconPeriod = 128
	}
	if g.BeaconFreqHz == 0 {
		g.BeaconFreqHz = 869525000
	}
}

func (g GatewayConf) upstreamEnabled() bool    { return boolOr(g.Upstream, true) }
func (g GatewayConf) downstreamEnabled() bool  { return boolOr(g.Downstream, true) }
func (g GatewayConf) radiostreamEnabled() bool { return boolOr(g.Radiostream, true) }
func (g GatewayConf) statusstreamEnabled() bool {
	return boolOr(g.Statusstream, true)
}
func (g GatewayConf) ghoststreamEnabled() bool { return boolOr(g.Ghoststream, false) }
func (g GatewayConf) beaconEnabled() bool      { return boolOr(g.Beacon, false) }
func (g GatewayConf) monitorEnabled() bool     { return boolOr(g.Monitor, false) }
func (g GatewayConf) fakeGPSEnabled() bool     { return boolOr(g.FakeGPS, false) }
func (g GatewayConf) gpsEnabled() bool         { return boolOr(g.GPS, true) }

func (g GatewayConf) forwardCRCValid() bool    { return boolOr(g.ForwardCRCValid, true) }
func (g GatewayConf) forwardCRCError() bool    { return boolOr(g.ForwardCRCError, false) }
func (g GatewayConf) forwardCRCDisabled() bool { return boolOr(g.ForwardCRCDisabled, false) }

// resolvedServers returns the server list to connect to, applying the
// fallback single-server triple when Servers is empty.
func (g GatewayConf) resolvedServers() []ServerConfig {
	if len(g.Servers) > 0 {
		return g.Servers
	}
	if g.ServerAddress == "" {
		return nil
	}
	return []ServerConfig{{
		Address:  g.ServerAddress,
		PortUp:   g.ServPortUp,
		PortDown: g.ServPortDown,
	}}
}

// Config is the top-level structure of a config file (spec.md §6).
type Config struct {
	SX1301Conf json.RawMessage `json:"SX1301_conf"`
	Gateway    GatewayConf     `json:"gateway_conf"`

	gatewayEUI [8]byte
}

// LoadConfig implements the debug/global+local layering of spec.md §6.
func LoadConfig(dir string) (*Config, error) {
	debugPath := dir + "/debug_conf.json"
	if _, err := os.Stat(debugPath); err == nil {
		var cfg Config
		if err := decodeJSONFile(debugPath, &cfg); err != nil {
			return nil, errors.Wrap(err, "load debug_conf.json")
		}
		cfg.Gateway.applyDefaults()
		if err := cfg.resolveGatewayID(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	globalPath := dir + "/global_conf.json"
	var cfg Config
	if err := decodeJSONFile(globalPath, &cfg); err != nil {
		return nil, errors.Wrap(err, "load global_conf.json")
	}

	localPath := dir + "/local_conf.json"
	if _, err := os.Stat(localPath); err == nil {
		if err := decodeJSONFile(localPath, &cfg); err != nil {
			return nil, errors.Wrap(err, "load local_conf.json overlay")
		}
	}

	cfg.Gateway.applyDefaults()
	if err := cfg.resolveGatewayID(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSONFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	return dec.Decode(v)
}

// resolveGatewayID parses the configured hex EUI-64, or — per
// SPEC_FULL.md §4.3 — derives one from the first non-loopback network
// interface's MAC address, padded into an EUI-64 with the 0xFF 0xFE
// convention the original packet forwarder uses.
func (c *Config) resolveGatewayID() error {
	if c.Gateway.GatewayID != "" {
		b, err := hex.DecodeString(c.Gateway.GatewayID)
		if err != nil || len(b) != 8 {
			return errors.Errorf("gateway_ID %q is not a 16-hex-digit EUI-64", c.Gateway.GatewayID)
		}
		c.gatewayEUI = EUI64FromBytes(b)
		return nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return errors.Wrap(err, "derive gateway EUI from network interface")
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		mac := iface.HardwareAddr
		var eui [8]byte
		copy(eui[0:3], mac[0:3])
		eui[3] = 0xFF
		eui[4] = 0xFE
		copy(eui[5:8], mac[3:6])
		c.gatewayEUI = eui
		c.Gateway.GatewayID = hex.EncodeToString(eui[:])
		return nil
	}
	return errors.New("no gateway_ID configured and no non-loopback interface to derive one from")
}

// gatewayEUI is the resolved form of Gateway.GatewayID, computed once
// by resolveGatewayID.
func (c *Config) GatewayEUI() [8]byte { return c.gatewayEUI }

// keepaliveInterval/statInterval/etc as time.Duration convenience
// accessors, kept next to the raw int fields above.
func (g GatewayConf) keepaliveInterval() time.Duration {
	return time.Duration(g.KeepaliveInterval) * time.Second
}
func (g GatewayConf) statInterval() time.Duration {
	return time.Duration(g.StatInterval) * time.Second
}
func (g GatewayConf) pushTimeout() time.Duration {
	return time.Duration(g.PushTimeoutMS) * time.Millisecond
}
func (g GatewayConf) pullTimeout() time.Duration {
	return time.Duration(g.PullTimeoutMS) * time.Millisecond
}
