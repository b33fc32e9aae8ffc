package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// buildInfo is a constant 1 labelled with the running version.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "residencial_build_info",
		Help: "Residencial API build information.",
	},
	[]string{"version", "commit"},
)

// SetBuildInfo publishes build_info{version,commit} 1. Init must run first.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
