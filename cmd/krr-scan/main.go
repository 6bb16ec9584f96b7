// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command krr-scan is a thin composition root proving the scan pipeline's
// pieces assemble against a real cluster and Prometheus-compatible
// backend. The flag surface is intentionally minimal: parsing a full CLI
// (output formats, namespace globs, strategy selection flags) is out of
// scope for this core.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	// Blank import required to register GCP auth handlers to talk to GKE clusters.
	_ "k8s.io/client-go/plugin/pkg/client/auth/gcp"

	"github.com/GoogleCloudPlatform/krr-scan/pkg/discovery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/promquery"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/scanner"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/strategy"
	"github.com/GoogleCloudPlatform/krr-scan/pkg/workload"
)

const (
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
)

var validLogLevels = []string{logLevelDebug, logLevelInfo, logLevelWarn, logLevelError}

var (
	queryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krr_scan_query_requests_total",
			Help: "A counter for queries sent to the Prometheus-compatible backend.",
		},
		[]string{"code", "method"},
	)
	queryHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "krr_scan_query_requests_latency_seconds",
			Help:    "Histogram of response latency of queries sent to the Prometheus-compatible backend.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "method"},
	)
)

func main() {
	var kubeconfig *string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = flag.String("kubeconfig", filepath.Join(home, ".kube", "config"), "(optional) absolute path to the kubeconfig file")
	} else {
		kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
	}
	var (
		apiserverURL  = flag.String("apiserver", "", "URL to the Kubernetes API server.")
		prometheusURL = flag.String("prometheus-url", "http://localhost:9090", "Base URL of the Prometheus-compatible query API.")
		clusterName   = flag.String("cluster-name", "default", "Name recorded against every ScanResult from this cluster.")
		dialect       = flag.String("dialect", "", "Force the Prometheus dialect (standard, gcp, anthos). Auto-detected from -prometheus-url when empty.")
		namespace     = flag.String("namespace", "", "Restrict the scan to a single namespace regexp. Empty scans every namespace.")
		allowHPA      = flag.Bool("allow-hpa", false, "Emit recommendations for workloads an HPA already scales.")
		metricsAddr   = flag.String("metrics-address", ":9091", "Address to serve this process's own /metrics endpoint on. Empty disables it.")
		logLevel      = flag.String("log-level", logLevelInfo,
			fmt.Sprintf("Log level to use. Possible values: %s", strings.Join(validLogLevels, ", ")))
	)
	flag.Parse()

	logger, err := setupLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger failed: %s\n", err)
		os.Exit(2)
	}

	cfg, err := clientcmd.BuildConfigFromFlags(*apiserverURL, *kubeconfig)
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
		os.Exit(1)
	}

	kubeClient, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "building Kubernetes client failed", "err", err)
		os.Exit(1)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		queryCounter,
		queryHistogram,
	)

	instrumentedTransport := promhttp.InstrumentRoundTripperCounter(queryCounter,
		promhttp.InstrumentRoundTripperDuration(queryHistogram, http.DefaultTransport))
	promClient, err := api.NewClient(api.Config{Address: *prometheusURL, RoundTripper: instrumentedTransport})
	if err != nil {
		level.Error(logger).Log("msg", "building Prometheus client failed", "err", err)
		os.Exit(1)
	}
	promAPI := v1.NewAPI(promClient)

	cluster := &workload.Cluster{
		Name:    *clusterName,
		Kube:    kubeClient,
		Prom:    promAPI,
		Dialect: resolveDialect(*dialect, *prometheusURL),
	}

	cfgScan := scanner.DefaultConfig()
	cfgScan.AllowHPA = *allowHPA
	if *dialect != "" {
		cfgScan.PrometheusDialectOverride = *dialect
	}

	filter := &discovery.Filter{
		Clusters: []*workload.Cluster{cluster},
		AllowHPA: *allowHPA,
		History:  cfgScan.History(),
	}
	if *namespace != "" {
		re, err := regexp.Compile(*namespace)
		if err != nil {
			level.Error(logger).Log("msg", "invalid -namespace regexp", "err", err)
			os.Exit(1)
		}
		filter.Namespaces = []*regexp.Regexp{re}
	}

	strat := strategy.NewSimple(strategy.SimpleParams{})
	runner := scanner.New(cfgScan, strat, logger)

	ctx, cancel := context.WithCancel(context.Background())

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancelled := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					level.Info(logger).Log("msg", "received termination signal, cancelling scan")
				case <-cancelled:
				}
				return nil
			},
			func(error) {
				cancel()
				close(cancelled)
			},
		)
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{Registry: metrics}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		g.Add(
			func() error {
				level.Info(logger).Log("msg", "serving metrics", "address", *metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return errors.Wrap(err, "metrics server failed")
				}
				return nil
			},
			func(error) {
				_ = srv.Close()
			},
		)
	}
	{
		g.Add(
			func() error {
				report, err := runner.Run(ctx, filter)
				if err != nil {
					return errors.Wrap(err, "scan failed")
				}
				printReport(logger, report)
				if report.ExitNonZero() {
					return errors.New("scan completed with no usable cluster results")
				}
				return nil
			},
			func(error) { cancel() },
		)
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "scan terminated with error", "err", err)
		os.Exit(1)
	}
}

func resolveDialect(override, prometheusURL string) string {
	if override != "" {
		return override
	}
	switch promquery.DetectDialect(prometheusURL, false) {
	case promquery.GCPManaged:
		return "gcp"
	case promquery.Anthos:
		return "anthos"
	default:
		return "standard"
	}
}

func setupLogger(logLevelStr string) (log.Logger, error) {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	switch logLevelStr {
	case logLevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case logLevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case logLevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case logLevelError:
		logger = level.NewFilter(logger, level.AllowError())
	default:
		return nil, errors.Errorf("invalid log level %q", logLevelStr)
	}
	return logger, nil
}

func printReport(logger log.Logger, report *scanner.Report) {
	level.Info(logger).Log("msg", "scan complete",
		"results", len(report.Results),
		"warnings", len(report.Warnings),
		"clusters_total", report.ClustersTotal,
		"clusters_failed", report.ClustersFailed,
	)
	for _, w := range report.Warnings {
		level.Warn(logger).Log("msg", "scan warning",
			"cluster", w.Cluster, "namespace", w.Namespace, "workload", w.Workload, "container", w.Container,
			"detail", w.Message,
		)
	}
	for _, res := range report.Results {
		level.Info(logger).Log("msg", "recommendation",
			"cluster", res.Cluster, "namespace", res.Namespace, "kind", res.Kind, "workload", res.Workload, "container", res.Container,
			"state", res.State,
			"cpu_request_millicores", quantityOrDash(res.Recommendation.CPURequestMillicores),
			"cpu_limit_millicores", quantityOrDash(res.Recommendation.CPULimitMillicores),
			"mem_request_bytes", quantityOrDash(res.Recommendation.MemRequestBytes),
			"mem_limit_bytes", quantityOrDash(res.Recommendation.MemLimitBytes),
		)
	}
}

func quantityOrDash(q workload.Quantity) string {
	if !q.Defined {
		return "-"
	}
	return fmt.Sprintf("%d", q.Value)
}
