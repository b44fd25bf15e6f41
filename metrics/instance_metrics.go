package metrics

import (
	"runtime"
	"time"

	"ccabid/build"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var started = time.Now().UTC()

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "build_info",
	Help:      "Build metadata for this binary.",
	ConstLabels: prometheus.Labels{
		"version":    build.Version,
		"date":       build.Date,
		"network":    networkLabel(),
		"go_version": runtime.Version(),
	},
}, func() float64 { return 1 })

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "start_timestamp",
	Help:      "UNIX timestamp (UTC) when this process started.",
}, func() float64 { return float64(started.Unix()) })

var _ = promauto.NewCounterFunc(prometheus.CounterOpts{
	Namespace: "ccabid",
	Name:      "up_seconds_total",
	Help:      "Seconds this process has been up, meant for use with `resets()`.",
}, func() float64 { return time.Since(started).Seconds() })

var auctionInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "auction_info",
	Help:      "The auction this process bids in. Always 1.",
}, []string{"chain_id", "auction_addr", "signer"})

var auctionWindowBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ccabid",
	Name:      "auction_window_block",
	Help:      "Block numbers bounding the bid window.",
}, []string{"boundary"})

// RecordAuction publishes the auction identity and its bid window. It is
// called once, after the auction parameters are loaded.
func RecordAuction(chainID, auctionAddr, signer string, contributorPeriodEnd, end uint64) {
	auctionInfo.Reset()
	auctionInfo.WithLabelValues(chainID, auctionAddr, signer).Set(1)
	auctionWindowBlock.WithLabelValues("contributor_period_end").Set(float64(contributorPeriodEnd))
	auctionWindowBlock.WithLabelValues("end").Set(float64(end))
}

func networkLabel() string {
	if build.Network == "" {
		return "unknown"
	}
	return build.Network
}
