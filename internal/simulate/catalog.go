package simulate

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/trackpick/internal/domain/model"
)

var artists = []string{ //nolint:gochecknoglobals // fixed catalog
	"Daft Punk", "Portishead", "Boards of Canada", "Massive Attack", "Aphex Twin",
	"Radiohead", "Bonobo", "Burial", "Moderat", "Caribou", "Four Tet", "Air",
}

var titles = []string{ //nolint:gochecknoglobals // fixed catalog
	"One More Time", "Glory Box", "Roygbiv", "Teardrop", "Windowlicker",
	"Reckoner", "Kerala", "Archangel", "Bad Kingdom", "Odessa", "Baby", "La Femme d'Argent",
}

// variant is one way a peer may have a track on disk.
type variant struct {
	name    func(t model.Target) string
	kbps    int
	size    int64
	durSkew int
}

var variants = []variant{ //nolint:gochecknoglobals // fixed catalog
	{func(t model.Target) string { return fmt.Sprintf(`Music\%s\%s.flac`, t.Artist, t.Title) }, 1000, 32_000_000, 0},
	{func(t model.Target) string { return fmt.Sprintf("%s - %s (320).mp3", t.Artist, t.Title) }, 320, 9_500_000, 1},
	{func(t model.Target) string { return fmt.Sprintf("%s - %s [V0].mp3", t.Artist, t.Title) }, 0, 7_200_000, 3},
	{func(t model.Target) string { return fmt.Sprintf("%s.mp3", t.Title) }, 192, 5_500_000, 4},
	{func(t model.Target) string { return fmt.Sprintf("%s - %s (live).mp3", t.Artist, t.Title) }, 256, 8_100_000, 45},
	{func(t model.Target) string { return fmt.Sprintf("%02d %s.m4a", len(t.Title), t.Title) }, 256, 6_000_000, 2},
	{func(model.Target) string { return "track01.mp3" }, 128, 3_200_000, 60},
	{func(t model.Target) string { return fmt.Sprintf("%s_%s_128k.mp3", t.Artist, t.Title) }, 0, 2_900_000, 8},
}

// Catalog generates deterministic targets and search results.
type Catalog struct {
	rng  *rand.Rand
	seed uint64
}

// NewCatalog creates a catalog driven by seed.
func NewCatalog(seed uint64) *Catalog {
	return &Catalog{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), seed: seed}
}

// Targets returns n targets. Durations are known for roughly half of them.
func (c *Catalog) Targets(n int) []model.Target {
	out := make([]model.Target, n)
	for i := range out {
		t := model.Target{
			Artist: artists[c.rng.IntN(len(artists))],
			Title:  titles[c.rng.IntN(len(titles))],
		}
		if c.rng.IntN(2) == 0 {
			t.DurationSec = 180 + c.rng.IntN(240)
		}
		out[i] = t
	}
	return out
}

// Candidates returns up to n distinct search results for t, offered by
// different peers in shuffled order.
func (c *Catalog) Candidates(t model.Target, n int) []model.Candidate { //nolint:gocritic // hugeParam: targets are values
	order := c.rng.Perm(len(variants))
	if n > len(order) {
		n = len(order)
	}
	out := make([]model.Candidate, 0, n)
	for _, idx := range order[:n] {
		v := variants[idx]
		cand := model.Candidate{
			Peer:        "peer-" + strconv.Itoa(c.rng.IntN(500)),
			Filename:    v.name(t),
			SizeBytes:   v.size,
			BitrateKbps: v.kbps,
		}
		if t.DurationSec > 0 {
			cand.DurationSec = t.DurationSec + v.durSkew
		}
		out = append(out, cand)
	}
	return out
}

// Fails reports whether the transfer client fails the download of
// candidateID. The choice is stable for a given seed.
func (c *Catalog) Fails(candidateID string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	h := xxhash.Sum64String(strconv.FormatUint(c.seed, 16) + ":" + candidateID)
	return float64(h%10_000) < rate*10_000
}
