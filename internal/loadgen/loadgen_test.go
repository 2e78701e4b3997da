package loadgen

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/adapters/http/api"
	service "github.com/okian/openpotd/internal/app"
	"github.com/okian/openpotd/internal/config"
	"github.com/okian/openpotd/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerateScript(t *testing.T) {
	Convey("Given a generator config", t, func() {
		cfg := &Config{Answer: 42, SeasonID: 3}

		Convey("When a script with two wrong attempts is built", func() {
			s := generateScript(cfg, 9, 2)

			Convey("Then the wrong answers come first and the last one is correct", func() {
				So(s.Attempts(), ShouldEqual, 3)
				So(s.Submissions[0].Answer, ShouldEqual, "43")
				So(s.Submissions[1].Answer, ShouldEqual, "44")
				So(s.Submissions[2].Answer, ShouldEqual, "42")
				for _, sub := range s.Submissions {
					So(sub.UserID, ShouldEqual, 9)
					So(sub.SeasonID, ShouldEqual, 3)
					So(sub.MessageID, ShouldNotBeEmpty)
				}
			})
		})
	})
}

func TestExpectedRanking(t *testing.T) {
	Convey("Given three scripts", t, func() {
		scripts := []Script{
			{UserID: 5, Submissions: make([]Submission, 2)},
			{UserID: 2, Submissions: make([]Submission, 1)},
			{UserID: 1, Submissions: make([]Submission, 2)},
		}

		Convey("When the ranking is computed", func() {
			got := expectedRanking(scripts, 100)

			Convey("Then the pool is split by weight and ties go to the lower id", func() {
				So(got[0].UserID, ShouldEqual, 2)
				So(got[0].Score, ShouldAlmostEqual, 100/2.8, 1e-9)
				So(got[1].UserID, ShouldEqual, 1)
				So(got[2].UserID, ShouldEqual, 5)
				So(got[1].Score, ShouldAlmostEqual, 90/2.8, 1e-9)
				So(got[2].Rank, ShouldEqual, 3)
			})

			Convey("Then a matching served prefix verifies", func() {
				So(verifyRanking(got, got[:2]), ShouldBeNil)
			})

			Convey("Then a swapped prefix is rejected", func() {
				bad := []Entry{got[0], got[2]}
				bad[1].Rank = 2
				So(verifyRanking(got, bad), ShouldNotBeNil)
				So(verifyRanking(got, nil), ShouldNotBeNil)
			})
		})
	})
}

func TestRunAgainstServer(t *testing.T) {
	Convey("Given a running openpotd server", t, func() {
		So(logger.InitWith(io.Discard, logger.FormatText), ShouldBeNil)
		ctx := context.Background()

		svc := service.New(service.WithSeed(config.Seed{
			Seasons: []config.SeedSeason{{ID: 1, Running: true, CurrentProblemID: 1}},
			Problems: []config.SeedProblem{
				{ID: 1, SeasonID: 1, Answer: 42, Date: "2026-10-19", Public: true},
			},
		}))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		Reset(srv.Close)

		Convey("When a load run is executed", func() {
			out := filepath.Join(t.TempDir(), "scripts.json")
			err := Run(ctx, &Config{
				BaseURL:    srv.URL,
				Users:      25,
				UserOffset: 100,
				MaxWrong:   3,
				Answer:     42,
				Pool:       100,
				TopN:       10,
				Workers:    4,
				Timeout:    5 * time.Second,
				OutputFile: out,
			})

			Convey("Then the served ranking matches the local computation", func() {
				So(err, ShouldBeNil)
				_, statErr := os.Stat(out)
				So(statErr, ShouldBeNil)
			})
		})
	})
}
