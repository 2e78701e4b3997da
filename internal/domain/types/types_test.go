package types

import (
	"encoding/json"
	"testing"

	"github.com/okian/openpotd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewProblemStats(t *testing.T) {
	Convey("Given domain problem figures", t, func() {
		in := model.ProblemStats{
			ProblemID: 4, SeasonID: 1, Difficulty: 3,
			WeightedSolves: 1.9, BasePoints: 52.6,
			OfficialSolves: 2, UnofficialSolves: 5,
		}

		Convey("When converted to the public view", func() {
			out := NewProblemStats(in)

			Convey("Then every figure is carried over", func() {
				So(out.ProblemID, ShouldEqual, 4)
				So(out.SeasonID, ShouldEqual, 1)
				So(out.Difficulty, ShouldEqual, 3)
				So(out.WeightedSolves, ShouldEqual, 1.9)
				So(out.BasePoints, ShouldEqual, 52.6)
				So(out.OfficialSolves, ShouldEqual, 2)
				So(out.UnofficialSolves, ShouldEqual, 5)
			})

			Convey("Then it encodes with snake_case keys", func() {
				data, err := json.Marshal(out)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring, `"base_points":52.6`)
				So(string(data), ShouldContainSubstring, `"unofficial_solves":5`)
			})
		})
	})
}

func TestEntryNicknameOmitted(t *testing.T) {
	Convey("Given an anonymous ranking entry", t, func() {
		data, err := json.Marshal(Entry{Rank: 1, UserID: 2, Score: 3})
		So(err, ShouldBeNil)
		So(string(data), ShouldNotContainSubstring, "nickname")
	})
}
