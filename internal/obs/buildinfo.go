package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "fingate build information.",
		},
		[]string{"version", "commit", "profile"},
	)
)

// InitBuildInfo registers build_info once and sets the labelled value to 1.
func InitBuildInfo(version, commit, profile string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, profile).Set(1)
}
