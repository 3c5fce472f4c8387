// Package scoring computes how well a search candidate matches a requested track.
//
// Scoring is a pure function of (target, candidate): no shared state, no
// side effects, safe for concurrent use.
package scoring

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/okian/trackpick/internal/domain/model"
)

// Sub-score ceilings.
const (
	MaxBitrate     = 100
	MaxDuration    = 100
	MaxSize        = 50
	MaxFilename    = 50
	ExtensionBonus = 10

	defaultPreferredExtension = ".mp3"
)

// Average bitrates of VBR presets that show up in filenames.
const (
	vbrV0Kbps = 245
	vbrV2Kbps = 190
)

var (
	bitrateInName = regexp.MustCompile(`\b(\d{2,4})\s*k(?:bps|b/s|bit)?\b`)
	vbrV0InName   = regexp.MustCompile(`\bv0\b`)
	vbrV2InName   = regexp.MustCompile(`\bv2\b`)
)

// tier pairs a bound with the points awarded when it is met.
type tier struct {
	bound  int64
	points int
}

var bitrateTiers = []tier{{320, 100}, {256, 80}, {192, 60}, {128, 40}}

// sizeTiers use strict "greater than" bounds in bytes.
var sizeTiers = []tier{{8_000_000, 50}, {5_000_000, 40}, {3_000_000, 30}, {1_000_000, 20}}

// durationBands are checked in order; the first band containing |diff| wins.
var durationBands = []tier{{2, 100}, {5, 80}, {10, 50}, {20, 25}}

// Breakdown holds the per-factor sub-scores of one scoring call.
type Breakdown struct {
	Bitrate   int `json:"bitrate"`
	Duration  int `json:"duration"`
	Size      int `json:"size"`
	Filename  int `json:"filename"`
	Extension int `json:"extension"`
}

// Total sums the sub-scores.
func (b Breakdown) Total() int {
	return b.Bitrate + b.Duration + b.Size + b.Filename + b.Extension
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithPreferredExtension sets the extension that earns the bonus when the
// target does not name one.
func WithPreferredExtension(ext string) Option {
	return func(s *Scorer) {
		if e := model.NormalizeExt(ext); e != "" {
			s.preferredExt = e
		}
	}
}

// Scorer scores candidates. The zero value is not usable; call New.
type Scorer struct {
	preferredExt string
}

// New creates a Scorer with configuration options.
func New(opts ...Option) *Scorer {
	s := &Scorer{preferredExt: defaultPreferredExtension}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultScorer = New()

// Score scores c against t with the default configuration.
func Score(t model.Target, c model.Candidate) int {
	return defaultScorer.Score(t, c)
}

// Score returns the total match score of c against t. Always >= 0.
func (s *Scorer) Score(t model.Target, c model.Candidate) int {
	return s.Breakdown(t, c).Total()
}

// Breakdown returns the individual sub-scores of c against t.
func (s *Scorer) Breakdown(t model.Target, c model.Candidate) Breakdown {
	preferred := model.NormalizeExt(t.Extension)
	if preferred == "" {
		preferred = s.preferredExt
	}

	bitrate := c.BitrateKbps
	if bitrate <= 0 {
		bitrate = BitrateFromFilename(c.Filename)
	}

	b := Breakdown{
		Bitrate:  BitrateScore(bitrate),
		Duration: DurationScore(t.DurationSec, c.DurationSec),
		Size:     SizeScore(c.SizeBytes),
		Filename: FilenameScore(t.Query(), c.Filename),
	}
	if c.Ext() == preferred {
		b.Extension = ExtensionBonus
	}
	return b
}

// BitrateScore maps a bitrate in kbps onto the stepwise tier table.
func BitrateScore(kbps int) int {
	for _, t := range bitrateTiers {
		if int64(kbps) >= t.bound {
			return t.points
		}
	}
	return 0
}

// DurationScore rates how close the candidate's duration is to the target's.
// Unknown durations (<= 0) on either side score 0.
func DurationScore(targetSec, candidateSec int) int {
	if targetSec <= 0 || candidateSec <= 0 {
		return 0
	}
	diff := targetSec - candidateSec
	if diff < 0 {
		diff = -diff
	}
	for _, b := range durationBands {
		if int64(diff) <= b.bound {
			return b.points
		}
	}
	return 0
}

// SizeScore rewards larger files, which correlate with higher quality encodes.
func SizeScore(bytes int64) int {
	for _, t := range sizeTiers {
		if bytes > t.bound {
			return t.points
		}
	}
	return 0
}

// FilenameScore compares the "artist - title" query with a filename. A
// case-insensitive occurrence of the whole query scores MaxFilename; otherwise
// the score is the fraction of query words present as whole words, scaled to
// MaxFilename and rounded down.
func FilenameScore(query, filename string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	name := strings.ToLower(filename)
	if strings.Contains(name, q) {
		return MaxFilename
	}

	queryWords := uniqueWords(q)
	if len(queryWords) == 0 {
		return 0
	}
	nameWords := make(map[string]struct{})
	for _, w := range words(name) {
		nameWords[w] = struct{}{}
	}

	matches := 0
	for _, w := range queryWords {
		if _, ok := nameWords[w]; ok {
			matches++
		}
	}
	score := matches * MaxFilename / len(queryWords)
	if score > MaxFilename {
		score = MaxFilename
	}
	return score
}

// BitrateFromFilename infers a bitrate from markers such as "320kbps",
// "256k" or the VBR presets "V0"/"V2". Returns 0 when nothing is found.
func BitrateFromFilename(filename string) int {
	name := strings.ToLower(filename)
	if m := bitrateInName.FindStringSubmatch(name); m != nil {
		if kbps, err := strconv.Atoi(m[1]); err == nil {
			return kbps
		}
	}
	switch {
	case vbrV0InName.MatchString(name):
		return vbrV0Kbps
	case vbrV2InName.MatchString(name):
		return vbrV2Kbps
	}
	return 0
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueWords(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words(s) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
