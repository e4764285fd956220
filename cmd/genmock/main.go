// Command genmock writes a deterministic USGS FeatureCollection for one day and
// the marts the pipeline must derive from it. The expected marts are computed
// with the domain package itself, so the fixture always matches real pipeline
// behavior. Point USGS_BASE_URL at a static server hosting the output to run
// the pipeline offline.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -date 2024-01-01 -events 250 -seed 7 \
//	  -out data/mock/2024-01-01_feature_collection.json \
//	  -marts-out data/mock/2024-01-01_marts.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

var networks = []string{"us", "ci", "nc", "ak", "hv", "uw"}

var places = []string{
	"12 km SSE of Hualien City, Taiwan",
	"5 km NW of The Geysers, CA",
	"48 km SW of Adak, Alaska",
	"Kermadec Islands region",
	"8 km E of Pahala, Hawaii",
	"central Mid-Atlantic Ridge",
}

type feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [3]float64 `json:"coordinates"`
}

type collection struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
	Features []feature      `json:"features"`
}

type marts struct {
	Count []domain.CountRow `json:"fct_count_day_earthquake"`
	Avg   []domain.AvgRow   `json:"fct_avg_day_earthquake"`
}

func main() {
	date := flag.String("date", "2024-01-01", "UTC day the events occur on")
	events := flag.Int("events", 100, "number of events to generate")
	seed := flag.Uint64("seed", 1, "random seed")
	out := flag.String("out", "", "path of the FeatureCollection to write")
	martsOut := flag.String("marts-out", "", "path of the expected marts to write")
	flag.Parse()

	if *out == "" || *martsOut == "" || *events < 0 {
		flag.Usage()
		os.Exit(1)
	}
	if err := run(*date, *events, *seed, *out, *martsOut); err != nil {
		log.Fatal(err)
	}
}

func run(date string, n int, seed uint64, out, martsOut string) error {
	w, err := domain.ParseDate(date)
	if err != nil {
		return err
	}

	fc := generate(w, n, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	body, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	expected, err := expectedMarts(body)
	if err != nil {
		return err
	}

	if err := writeFile(out, body); err != nil {
		return err
	}
	mb, err := json.MarshalIndent(expected, "", "  ")
	if err != nil {
		return fmt.Errorf("encode marts: %w", err)
	}
	if err := writeFile(martsOut, mb); err != nil {
		return err
	}

	fmt.Printf("Generated %d events for %s\n", n, date)
	fmt.Printf("  collection: %s\n", out)
	fmt.Printf("  marts:      %s (%d days)\n", martsOut, len(expected.Count))
	return nil
}

// generate builds n events spread over w in ascending time order. Roughly one
// in twenty has no magnitude and one in fifty has no depth error, mirroring
// the sparse properties of real catalogue entries.
func generate(w domain.Window, n int, rng *rand.Rand) collection {
	span := w.End.Sub(w.Start)
	features := make([]feature, n)
	for i := range features {
		at := w.Start.Add(time.Duration(float64(span) * (float64(i) + rng.Float64()) / float64(max(n, 1))))
		net := networks[rng.IntN(len(networks))]

		var mag any
		if rng.IntN(20) != 0 {
			mag = round(0.5+rng.ExpFloat64()*1.2, 2)
		}
		var depthError any
		if rng.IntN(50) != 0 {
			depthError = round(rng.Float64()*5, 3)
		}

		features[i] = feature{
			Type: "Feature",
			ID:   fmt.Sprintf("%s%08d", net, 70000000+i),
			Properties: map[string]any{
				"mag":        mag,
				"place":      places[rng.IntN(len(places))],
				"time":       at.UnixMilli(),
				"updated":    at.Add(time.Duration(rng.IntN(3600)) * time.Second).UnixMilli(),
				"net":        net,
				"magType":    []string{"ml", "md", "mb", "mww"}[rng.IntN(4)],
				"nst":        rng.IntN(120),
				"gap":        round(rng.Float64()*300, 1),
				"dmin":       round(rng.Float64()*2, 4),
				"rms":        round(rng.Float64(), 2),
				"type":       "earthquake",
				"status":     []string{"reviewed", "automatic"}[rng.IntN(2)],
				"depthError": depthError,
			},
			Geometry: geometry{
				Type:        "Point",
				Coordinates: [3]float64{round(rng.Float64()*360-180, 4), round(rng.Float64()*180-90, 4), round(rng.Float64()*700, 2)},
			},
		}
	}
	return collection{
		Type: "FeatureCollection",
		Metadata: map[string]any{
			"generated": w.End.UnixMilli(),
			"title":     "USGS Earthquakes (mock)",
			"status":    200,
			"count":     n,
		},
		Features: features,
	}
}

// expectedMarts runs the generated document through the same flattening and
// aggregation the pipeline applies.
func expectedMarts(body []byte) (marts, error) {
	records, err := domain.FlattenFeatureCollection(body)
	if err != nil {
		return marts{}, fmt.Errorf("flatten generated collection: %w", err)
	}
	count, err := domain.CountByDay(records)
	if err != nil {
		return marts{}, err
	}
	avg, err := domain.AverageMagnitudeByDay(records)
	if err != nil {
		return marts{}, err
	}
	return marts{Count: count, Avg: avg}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
