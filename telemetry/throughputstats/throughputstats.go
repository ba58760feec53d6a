// Package throughputstats keeps per-connection inbound/outbound counters
// for the stats digest connections expose.
package throughputstats

import (
	"sync/atomic"
	"time"
)

type Digest struct {
	Unit     string `json:"unit"`
	Inbound  int64  `json:"inbound"`
	Outbound int64  `json:"outbound"`
	Interval string `json:"interval"`
}

type ThroughputStats struct {
	unit     string
	start    atomic.Int64 // unix nanos of the last reset
	inbound  atomic.Int64
	outbound atomic.Int64
}

func New(unit string) *ThroughputStats {
	c := &ThroughputStats{unit: unit}
	c.start.Store(time.Now().UnixNano())
	return c
}

func (c *ThroughputStats) CountInbound(n int) {
	c.inbound.Add(int64(n))
}

func (c *ThroughputStats) CountOutbound(n int) {
	c.outbound.Add(int64(n))
}

func (c *ThroughputStats) Reset() {
	c.inbound.Store(0)
	c.outbound.Store(0)
	c.start.Store(time.Now().UnixNano())
}

func (c *ThroughputStats) Digest() Digest {
	interval := time.Since(time.Unix(0, c.start.Load())).Round(time.Second)
	return Digest{
		Unit:     c.unit,
		Inbound:  c.inbound.Load(),
		Outbound: c.outbound.Load(),
		Interval: interval.String(),
	}
}
