package scoring_test

import (
	"sync"
	"testing"

	"github.com/okian/trackpick/internal/domain/model"
	scoring "github.com/okian/trackpick/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBitrateScore(t *testing.T) {
	Convey("Given the bitrate tier table", t, func() {
		Convey("Then each tier maps to its fixed points", func() {
			So(scoring.BitrateScore(320), ShouldEqual, 100)
			So(scoring.BitrateScore(256), ShouldEqual, 80)
			So(scoring.BitrateScore(192), ShouldEqual, 60)
			So(scoring.BitrateScore(128), ShouldEqual, 40)
		})

		Convey("Then unknown or low bitrates score zero", func() {
			So(scoring.BitrateScore(0), ShouldEqual, 0)
			So(scoring.BitrateScore(-5), ShouldEqual, 0)
			So(scoring.BitrateScore(96), ShouldEqual, 0)
		})

		Convey("Then the score never decreases as bitrate grows", func() {
			prev := 0
			for kbps := 0; kbps <= 500; kbps++ {
				s := scoring.BitrateScore(kbps)
				So(s, ShouldBeGreaterThanOrEqualTo, prev)
				prev = s
			}
		})
	})
}

func TestDurationScore(t *testing.T) {
	Convey("Given a target duration of 300s", t, func() {
		Convey("Then the first matching band wins", func() {
			So(scoring.DurationScore(300, 302), ShouldEqual, 100)
			So(scoring.DurationScore(300, 298), ShouldEqual, 100)
			So(scoring.DurationScore(300, 305), ShouldEqual, 80)
			So(scoring.DurationScore(300, 290), ShouldEqual, 50)
			So(scoring.DurationScore(300, 320), ShouldEqual, 25)
			So(scoring.DurationScore(300, 321), ShouldEqual, 0)
		})

		Convey("Then unknown durations contribute nothing", func() {
			So(scoring.DurationScore(0, 300), ShouldEqual, 0)
			So(scoring.DurationScore(300, 0), ShouldEqual, 0)
		})

		Convey("Then moving closer never lowers the score", func() {
			prev := 0
			for diff := 40; diff >= 0; diff-- {
				s := scoring.DurationScore(300, 300+diff)
				So(s, ShouldBeGreaterThanOrEqualTo, prev)
				prev = s
			}
		})
	})
}

func TestSizeScore(t *testing.T) {
	Convey("Given file sizes", t, func() {
		So(scoring.SizeScore(9_000_000), ShouldEqual, 50)
		So(scoring.SizeScore(8_000_000), ShouldEqual, 40)
		So(scoring.SizeScore(6_000_000), ShouldEqual, 40)
		So(scoring.SizeScore(4_000_000), ShouldEqual, 30)
		So(scoring.SizeScore(2_000_000), ShouldEqual, 20)
		So(scoring.SizeScore(1_000_000), ShouldEqual, 0)
		So(scoring.SizeScore(0), ShouldEqual, 0)
	})
}

func TestFilenameScore(t *testing.T) {
	Convey("Given the query \"Daft Punk - One More Time\"", t, func() {
		query := "Daft Punk - One More Time"

		Convey("When the filename contains the full query in another case", func() {
			So(scoring.FilenameScore(query, `Music\DAFT PUNK - ONE MORE TIME.mp3`), ShouldEqual, scoring.MaxFilename)
		})

		Convey("When only the title words match", func() {
			s := scoring.FilenameScore(query, "01 - One More Time.mp3")

			Convey("Then the score is proportional and below the exact-match ceiling", func() {
				So(s, ShouldBeGreaterThan, 0)
				So(s, ShouldBeLessThan, scoring.MaxFilename)
				So(s, ShouldEqual, 30) // 3 of 5 words
			})
		})

		Convey("When words only appear inside other words", func() {
			So(scoring.FilenameScore(query, "punkrock timeless.mp3"), ShouldEqual, 0)
		})

		Convey("When nothing matches", func() {
			So(scoring.FilenameScore(query, "something else.mp3"), ShouldEqual, 0)
		})

		Convey("When the query is empty", func() {
			So(scoring.FilenameScore("", "anything.mp3"), ShouldEqual, 0)
		})
	})
}

func TestBitrateFromFilename(t *testing.T) {
	Convey("Given filenames carrying bitrate hints", t, func() {
		So(scoring.BitrateFromFilename("Track [320kbps].mp3"), ShouldEqual, 320)
		So(scoring.BitrateFromFilename("Track 256k.mp3"), ShouldEqual, 256)
		So(scoring.BitrateFromFilename("Album (V0)/01 Track.mp3"), ShouldEqual, 245)
		So(scoring.BitrateFromFilename("Album [V2]/01 Track.mp3"), ShouldEqual, 190)
		So(scoring.BitrateFromFilename("Track 44.1khz.flac"), ShouldEqual, 0)
		So(scoring.BitrateFromFilename("Track.mp3"), ShouldEqual, 0)
	})
}

func TestScorer_Score(t *testing.T) {
	Convey("Given a target and a rich candidate", t, func() {
		target := model.Target{Artist: "Daft Punk", Title: "One More Time", DurationSec: 320}
		c := model.Candidate{
			Peer:        "peer-1",
			Filename:    "01 - One More Time.mp3",
			SizeBytes:   12_000_000,
			BitrateKbps: 320,
			DurationSec: 321,
		}

		Convey("When scoring with defaults", func() {
			b := scoring.New().Breakdown(target, c)

			Convey("Then every factor contributes", func() {
				So(b.Bitrate, ShouldEqual, 100)
				So(b.Duration, ShouldEqual, 100)
				So(b.Size, ShouldEqual, 50)
				So(b.Filename, ShouldEqual, 30)
				So(b.Extension, ShouldEqual, scoring.ExtensionBonus)
				So(b.Total(), ShouldEqual, 290)
				So(scoring.Score(target, c), ShouldEqual, b.Total())
			})
		})

		Convey("When scoring twice", func() {
			So(scoring.Score(target, c), ShouldEqual, scoring.Score(target, c))
		})

		Convey("When every optional attribute is missing", func() {
			s := scoring.Score(model.Target{}, model.Candidate{})
			So(s, ShouldEqual, 0)
		})

		Convey("When the candidate has no bitrate but the filename does", func() {
			noBitrate := c
			noBitrate.BitrateKbps = 0
			noBitrate.Filename = "One More Time 256kbps.mp3"
			So(scoring.New().Breakdown(target, noBitrate).Bitrate, ShouldEqual, 80)
		})

		Convey("When the target prefers flac", func() {
			flacTarget := target
			flacTarget.Extension = "flac"
			So(scoring.New().Breakdown(flacTarget, c).Extension, ShouldEqual, 0)
			flac := c
			flac.Filename = "01 - One More Time.FLAC"
			So(scoring.New().Breakdown(flacTarget, flac).Extension, ShouldEqual, scoring.ExtensionBonus)
		})

		Convey("When the scorer prefers another extension", func() {
			s := scoring.New(scoring.WithPreferredExtension(".ogg"))
			So(s.Breakdown(target, c).Extension, ShouldEqual, 0)
		})

		Convey("When scoring concurrently", func() {
			var wg sync.WaitGroup
			results := make([]int, 64)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = scoring.Score(target, c)
				}(i)
			}
			wg.Wait()

			Convey("Then every call agrees", func() {
				for _, r := range results {
					So(r, ShouldEqual, 290)
				}
			})
		})
	})
}
