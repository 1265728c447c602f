// Command gwfwd is the LoRa concentrator packet-forwarding daemon
// (spec.md §1). It loads a layered JSON config, wires C1-C10, and runs
// until a termination signal or a fatal condition.
package main

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"periph.io/x/host/v3"
)

func main() {
	os.Exit(run())
}

func run() int {
	confDir := flag.String("config-dir", ".", "directory containing debug_conf.json or global_conf.json/local_conf.json")
	flag.Parse()

	logger := NewRootLogger()
	mainLogger := WithComponent(logger, "main")

	// host.Init registers the platform's GPIO/pin drivers so
	// gpioreg.ByName (concentrator.go's reset-line lookup) can resolve
	// a configured pin name; harmless and required even when no reset
	// pin is configured.
	if _, err := host.Init(); err != nil {
		logWarn(mainLogger, "periph host init failed, GPIO reset line unavailable", "err", err)
	}

	cfg, err := LoadConfig(*confDir)
	if err != nil {
		logError(mainLogger, "config load failed", "err", errors.Cause(err), "detail", err.Error())
		return 1
	}

	logInfo(mainLogger, "starting gateway forwarder", "gateway_eui", cfg.Gateway.GatewayID)

	// No concrete hardware HAL or ghost-packet collaborator ships with
	// this repository (spec.md §1 names both as external collaborators);
	// NullRadio and NoGhostSource stand in so the daemon still runs
	// end to end. See DESIGN.md.
	radio := NewNullRadio()
	ghost := GhostSource(NoGhostSource{})

	supervisor := NewSupervisor(mainLogger, cfg, radio, ghost)
	return supervisor.Run()
}
