/*
 * PCIe DMA - Engine metrics.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"slices"
	"time"

	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/rcrowley/go-metrics"
)

// Channel holds the counters of one DMA channel.
type Channel struct {
	Transfers  metrics.Counter // Completed single shot descriptors
	Immediates metrics.Counter // Completed immediate writes
	Bytes      metrics.Counter // Bytes moved
	Blocks     metrics.Counter // Completed blocks
	Runs       metrics.Counter // Completed block runs
	Ignored    metrics.Counter // Starts ignored while busy
	Queued     metrics.Counter // Starts queued while busy
	Dropped    metrics.Counter // Starts dropped on full queue
	Restarted  metrics.Counter // Runs stopped by a newer start
	Rejected   metrics.Counter // Block starts failing mask check
	Disabled   metrics.Counter // Starts while engine disabled
	Faults     metrics.Counter // Backing store failures
	Interrupts metrics.Counter // Interrupts raised
	RunTime    metrics.Timer   // Duration of block runs
}

// Create counters named dma.<name>.<counter> in registry.
func NewChannel(registry metrics.Registry, name string) *Channel {
	prefix := "dma." + name + "."
	counter := func(n string) metrics.Counter {
		return metrics.GetOrRegisterCounter(prefix+n, registry)
	}
	return &Channel{
		Transfers:  counter("transfers"),
		Immediates: counter("immediates"),
		Bytes:      counter("bytes"),
		Blocks:     counter("blocks"),
		Runs:       counter("runs"),
		Ignored:    counter("ignored"),
		Queued:     counter("queued"),
		Dropped:    counter("dropped"),
		Restarted:  counter("restarted"),
		Rejected:   counter("rejected"),
		Disabled:   counter("disabled"),
		Faults:     counter("faults"),
		Interrupts: counter("interrupts"),
		RunTime:    metrics.GetOrRegisterTimer(prefix+"run_time", registry),
	}
}

// Zero all counters.
func (c *Channel) Clear() {
	for _, ctr := range []metrics.Counter{c.Transfers, c.Immediates, c.Bytes, c.Blocks, c.Runs,
		c.Ignored, c.Queued, c.Dropped, c.Restarted, c.Rejected, c.Disabled, c.Faults, c.Interrupts} {
		ctr.Clear()
	}
}

// Return counter values of registry sorted by name.
func Snapshot(registry metrics.Registry) []string {
	list := []string{}
	registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			list = append(list, fmt.Sprintf("%s %d", name, m.Count()))
		case metrics.Gauge:
			list = append(list, fmt.Sprintf("%s %d", name, m.Value()))
		case metrics.Timer:
			list = append(list, fmt.Sprintf("%s count=%d mean=%s", name, m.Count(),
				time.Duration(m.Mean())))
		}
	})
	slices.Sort(list)
	return list
}

// Exporter serves registry on a Prometheus endpoint.
type Exporter struct {
	server *http.Server
	listen net.Listener
}

// Start Prometheus exporter for registry on listen at path.
func StartPrometheus(registry metrics.Registry, listen string, path string, interval time.Duration) (*Exporter, error) {
	if listen == "" {
		return nil, errors.New("stats listen address should not be empty")
	}
	if path == "" {
		return nil, errors.New("stats path should not be empty")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	pr := prometheus.NewRegistry()
	pClient := mp.NewPrometheusProvider(registry, "pciedma", "", pr, interval)
	go pClient.UpdatePrometheusMetrics()

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pciedma",
		Name:      "info",
		Help:      "Version information for the DMA engine model",
		ConstLabels: prometheus.Labels{
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("stats listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{}))
	exp := &Exporter{
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listen: ln,
	}
	go func() {
		slog.Info("Prometheus stats listening", "listen", ln.Addr().String(), "path", path)
		if err := exp.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Prometheus stats server: " + err.Error())
		}
	}()
	return exp, nil
}

// Address exporter is listening on.
func (e *Exporter) Addr() string {
	return e.listen.Addr().String()
}

// Stop exporter.
func (e *Exporter) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
