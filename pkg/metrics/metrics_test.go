package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When applying them to a manager", func() {
			m := &Manager{namespace: "openpotd", subsystem: "core", refreshInterval: defaultRefreshInterval}
			WithNamespace("potd")(m)
			WithSubsystem("scoring")(m)
			WithMetricPrefix("test")(m)
			WithHistogramBuckets([]float64{0.1, 0.5, 1.0})(m)
			WithMetricsEnabled(true)(m)
			WithRefreshInterval(5 * time.Second)(m)
			WithCustomLabels(map[string]string{"env": "test"})(m)

			Convey("Then every field is set", func() {
				So(m.namespace, ShouldEqual, "potd")
				So(m.subsystem, ShouldEqual, "scoring")
				So(m.metricPrefix, ShouldEqual, "test")
				So(m.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(m.enabled, ShouldBeTrue)
				So(m.refreshInterval, ShouldEqual, 5*time.Second)
				So(m.customLabels["env"], ShouldEqual, "test")
			})
		})

		Convey("When passing empty values", func() {
			m := &Manager{namespace: "openpotd", subsystem: "core", refreshInterval: defaultRefreshInterval}
			WithNamespace("")(m)
			WithSubsystem("")(m)
			WithRefreshInterval(0)(m)
			WithHistogramBuckets(nil)(m)

			Convey("Then the defaults are kept", func() {
				So(m.namespace, ShouldEqual, "openpotd")
				So(m.subsystem, ShouldEqual, "core")
				So(m.refreshInterval, ShouldEqual, defaultRefreshInterval)
				So(m.histogramBuckets, ShouldBeNil)
			})
		})
	})
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered under the default namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.submissions.WithLabelValues("official", "correct").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "openpotd_core_submissions_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("potd"),
				WithSubsystem("test"),
				WithMetricPrefix("x"),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.rankingUpdates.Inc()

			Convey("Then names carry the prefix", func() {
				So(testutil.ToFloat64(manager.rankingUpdates), ShouldEqual, 1)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "potd_test_x_ranking_updates_total")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording submissions", func() {
			before := testutil.ToFloat64(globalManager.submissions.WithLabelValues("official", "correct"))
			RecordSubmission("official", "correct")
			RecordSolve("official")
			RecordSubmissionDuplicate()
			RecordSubmissionLatency(1.5)
			RecordLockContended()

			Convey("Then the counter moves", func() {
				after := testutil.ToFloat64(globalManager.submissions.WithLabelValues("official", "correct"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording scoring and ranking", func() {
			RecordScoringLatency(2)
			RecordScoringSkipped()
			RecordScoringError()
			RecordRankingLatency(3)
			RecordRankingUpdate()
			RecordRankingError()
			UpdateRankedUsers(12)
			RecordRefreshLatency(4)
			RecordNotifyError()

			Convey("Then gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.rankedUsers), ShouldEqual, 12)
			})
		})

		Convey("When recording queue and worker metrics", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueFallback()
				RecordQueueProcessingLatency(1)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				UpdateWorkerIdleCount(3)
				RecordWorkerProcessingLatency(1)
				RecordWorkerError()
				UpdateRepositoryRecordsTotal(5)
				RecordRepositoryQueryLatency(0.1)
				RecordRepositoryUpdateLatency(0.2)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 10)
			So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 4)
		})

		Convey("When recording http and error metrics with odd labels", func() {
			So(func() {
				RecordHTTPRequest("", "", "200")
				RecordHTTPRequest("/score/{user_id}", "GET", "404")
				RecordHTTPRequestDuration("/rankings", "GET", "200", 0)
				RecordErrorByComponent("component-with-dash", "error_with_underscore")
				RecordErrorByType("error.with.dots", "error")
				RecordErrorByEndpoint("/submissions", "POST", "timeout")
				RecordErrorLatency("", "", 10)
			}, ShouldNotPanic)
		})
	})
}

func TestSystemCollector(t *testing.T) {
	Convey("Given the system collector", t, func() {
		Convey("When sampling once", func() {
			CollectSystemStats()

			Convey("Then goroutine count is positive", func() {
				So(testutil.ToFloat64(globalManager.systemGoroutineCount), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			done := make(chan struct{})
			go func() {
				RunSystemCollector(ctx)
				close(done)
			}()

			Convey("Then it returns", func() {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("collector did not stop")
				}
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		done := make(chan bool, 10)
		for i := 0; i < 10; i++ {
			go func() {
				for j := 0; j < 100; j++ {
					RecordSubmission("unofficial", "incorrect")
					UpdateQueueSize(j)
					RecordScoringLatency(float64(j))
					RecordHTTPRequest("/check", "POST", "200")
				}
				done <- true
			}()
		}
		for i := 0; i < 10; i++ {
			<-done
		}

		Convey("Then nothing panics", func() {
			So(true, ShouldBeTrue)
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global manager is reconfigured", t, func() {
		savedManager, savedRegistry := globalManager, customRegistry
		Reset(func() { globalManager, customRegistry = savedManager, savedRegistry })

		Convey("When a namespace, prefix and labels are set", func() {
			Configure(
				WithNamespace("potd"),
				WithMetricPrefix("cfg"),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithRefreshInterval(time.Second),
			)
			RecordSubmission("official", "correct")

			Convey("Then the exposed registry serves the renamed collectors", func() {
				So(Enabled(), ShouldBeTrue)
				So(globalManager.refreshInterval, ShouldEqual, time.Second)
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "potd_core_cfg_submissions_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[1].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When metrics are disabled", func() {
			Configure(WithMetricsEnabled(false))
			RecordSubmission("official", "correct")

			Convey("Then nothing is exposed and the sampler does not run", func() {
				So(Enabled(), ShouldBeFalse)
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldEqual, 0)

				done := make(chan struct{})
				go func() {
					RunSystemCollector(context.Background())
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("collector ran while disabled")
				}
			})
		})
	})
}
