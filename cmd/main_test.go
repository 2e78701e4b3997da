package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/okian/openpotd/internal/config"
	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Seed = config.Seed{
		Seasons: []config.SeedSeason{{ID: 1, Name: "autumn", Running: true, CurrentProblemID: 2}},
		Problems: []config.SeedProblem{
			{ID: 1, SeasonID: 1, Answer: 7, Date: "2026-10-01", Public: true},
			{ID: 2, SeasonID: 1, Answer: 42, Date: "2026-10-02", Public: true},
		},
	}
	return cfg
}

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given POTD environment variables", t, func() {
		_ = os.Setenv("POTD_ADDR", ":8181")
		_ = os.Setenv("POTD_REFRESH_WORKERS", "2")
		_ = os.Setenv("POTD_BASE_POINTS", "250")
		convey.Reset(func() {
			_ = os.Unsetenv("POTD_ADDR")
			_ = os.Unsetenv("POTD_REFRESH_WORKERS")
			_ = os.Unsetenv("POTD_BASE_POINTS")
		})

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
			convey.So(cfg.RefreshWorkers, convey.ShouldEqual, 2)
			convey.So(cfg.BasePoints, convey.ShouldEqual, 250)
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
		})
	})
}

func TestMetricsFromConfig(t *testing.T) {
	convey.Convey("Given metrics settings from the environment", t, func() {
		_ = os.Setenv("POTD_METRICS_ENABLED", "false")
		_ = os.Setenv("POTD_METRICS_NAMESPACE", "potd")
		convey.Reset(func() {
			_ = os.Unsetenv("POTD_METRICS_ENABLED")
			_ = os.Unsetenv("POTD_METRICS_NAMESPACE")
			metrics.Configure(metricsOptions(config.New())...)
		})

		cfg, err := config.Load(context.Background())
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "potd")

		convey.Convey("When the collectors are configured", func() {
			metrics.Configure(metricsOptions(cfg)...)

			convey.Convey("Then collection is off and nothing is exposed", func() {
				convey.So(metrics.Enabled(), convey.ShouldBeFalse)
				families, err := metrics.GetRegistry().Gather()
				convey.So(err, convey.ShouldBeNil)
				convey.So(families, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestServerWiring(t *testing.T) {
	convey.Convey("Given a service started from config", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		svc, err := newService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.Reset(svc.Stop)

		mux := newMux(ctx, svc, cfg, logger.Nop())
		do := func(method, target, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, target, strings.NewReader(body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			return w
		}

		convey.Convey("When a user solves the current problem", func() {
			w := do(http.MethodPost, "/submissions", `{"message_id": "a", "user_id": 1, "nickname": "ann", "answer": "42"}`)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)

			var reply types.SubmissionReply
			convey.So(json.Unmarshal(w.Body.Bytes(), &reply), convey.ShouldBeNil)
			convey.So(reply.Correct, convey.ShouldBeTrue)

			convey.Convey("Then after a refresh the ranking lists them anonymously with the whole pool", func() {
				convey.So(do(http.MethodPost, "/refresh", "").Code, convey.ShouldEqual, http.StatusOK)

				w := do(http.MethodGet, "/rankings", "")
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				var entries []types.Entry
				convey.So(json.Unmarshal(w.Body.Bytes(), &entries), convey.ShouldBeNil)
				convey.So(len(entries), convey.ShouldEqual, 1)
				convey.So(entries[0].UserID, convey.ShouldEqual, 1)
				convey.So(entries[0].Nickname, convey.ShouldBeEmpty)
				convey.So(entries[0].Score, convey.ShouldAlmostEqual, 100, 1e-9)
			})

			convey.Convey("And the same message is acknowledged as a duplicate", func() {
				w := do(http.MethodPost, "/submissions", `{"message_id": "a", "user_id": 1, "answer": "42"}`)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `"duplicate":true`)
			})
		})

		convey.Convey("When the docs and landing page are requested", func() {
			convey.So(do(http.MethodGet, "/", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(do(http.MethodGet, "/openapi.yaml", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(do(http.MethodGet, "/api-docs", "").Code, convey.ShouldEqual, http.StatusOK)
		})
	})

	convey.Convey("Given an unreachable redis mirror", t, func() {
		cfg := testConfig()
		cfg.RedisAddr = "127.0.0.1:1"

		convey.Convey("Then the service is not started", func() {
			_, err := newService(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
