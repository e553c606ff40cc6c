// Command genfixture converts a CSV extract of station records into the JSON
// fixture format loaded by the in-memory store. Rows that carry latitude and
// longitude become geocoded addresses with their grid square filled in;
// the rest are left pending for the geocoding pipeline.
//
// Usage:
//
//	go run ./cmd/genfixture \
//	  -csv data/stations.csv \
//	  -out internal/storage/memory/testdata/neighbors.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/grid"
	"github.com/couchcryptid/ham-neighbors/internal/storage/memory"
)

var requiredColumns = []string{"callsign", "line1", "city", "state", "postal_code"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "CSV file with one station per row")
	out := flag.String("out", "", "output path for the JSON fixture")
	flag.Parse()

	if *csvPath == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -out")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fixture, err := buildFixture(f)
	if err != nil {
		return fmt.Errorf("processing %s: %w", *csvPath, err)
	}

	if err := writeJSON(*out, fixture); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s", *out)

	printStats(fixture)
	return nil
}

// buildFixture reads station rows from r. Rows sharing a normalized address
// share one address record.
func buildFixture(r io.Reader) (memory.Fixture, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return memory.Fixture{}, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return memory.Fixture{}, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := colIdx[c]; !ok {
			return memory.Fixture{}, fmt.Errorf("missing column %q", c)
		}
	}

	var fx memory.Fixture
	byHash := map[string]int64{}
	seen := map[string]int{}

	for i, row := range rows[1:] {
		line := i + 2
		callsign := strings.ToUpper(get(row, colIdx, "callsign"))
		if callsign == "" {
			return memory.Fixture{}, fmt.Errorf("line %d: empty callsign", line)
		}
		if prev, ok := seen[callsign]; ok {
			return memory.Fixture{}, fmt.Errorf("line %d: callsign %s already on line %d", line, callsign, prev)
		}
		seen[callsign] = line

		addr, err := parseAddress(row, colIdx)
		if err != nil {
			return memory.Fixture{}, fmt.Errorf("line %d: %w", line, err)
		}

		id, ok := byHash[addr.Hash]
		if !ok {
			id = int64(len(fx.Addresses) + 1)
			addr.ID = id
			byHash[addr.Hash] = id
			fx.Addresses = append(fx.Addresses, addr)
		}

		fx.Stations = append(fx.Stations, domain.Station{
			ID:            int64(len(fx.Stations) + 1),
			Callsign:      callsign,
			FirstName:     get(row, colIdx, "first_name"),
			MiddleName:    get(row, colIdx, "middle_name"),
			LastName:      get(row, colIdx, "last_name"),
			Suffix:        get(row, colIdx, "suffix"),
			Organization:  get(row, colIdx, "organization"),
			OperatorClass: get(row, colIdx, "operator_class"),
			AddressID:     id,
		})
	}
	return fx, nil
}

func parseAddress(row []string, colIdx map[string]int) (domain.Address, error) {
	a := domain.Address{
		Line1:      get(row, colIdx, "line1"),
		Line2:      get(row, colIdx, "line2"),
		City:       get(row, colIdx, "city"),
		State:      strings.ToUpper(get(row, colIdx, "state")),
		PostalCode: get(row, colIdx, "postal_code"),
	}
	a.Hash = domain.HashAddress(a.Line1, a.City, a.State, a.PostalCode)

	if domain.IsPOBoxOnly(a.Line1) {
		a.Status = domain.StatusPOBox
		return a, nil
	}

	latStr, lngStr := get(row, colIdx, "latitude"), get(row, colIdx, "longitude")
	if latStr == "" && lngStr == "" {
		return a, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return a, fmt.Errorf("latitude %q: %w", latStr, err)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return a, fmt.Errorf("longitude %q: %w", lngStr, err)
	}
	code, ok := grid.LatLngToCode(lat, lng)
	if !ok {
		return a, fmt.Errorf("coordinates %g,%g out of range", lat, lng)
	}

	a.Status = domain.StatusSuccess
	a.Latitude = lat
	a.Longitude = lng
	a.GridSquare = code
	return a, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type stateCount struct {
	state string
	count int
}

func printStats(fx memory.Fixture) {
	statusCounts := map[domain.GeocodeStatus]int{}
	stateCounts := map[string]int{}
	for _, a := range fx.Addresses {
		statusCounts[a.Status]++
		stateCounts[a.State]++
	}

	fmt.Println("\n=== Fixture stats ===")
	fmt.Printf("Stations: %d\n", len(fx.Stations))
	fmt.Printf("Addresses: %d (%d shared)\n", len(fx.Addresses), len(fx.Stations)-len(fx.Addresses))
	for _, s := range domain.Statuses {
		fmt.Printf("  %-10s %d\n", s, statusCounts[s])
	}

	sc := make([]stateCount, 0, len(stateCounts))
	for s, c := range stateCounts {
		sc = append(sc, stateCount{s, c})
	}
	sort.Slice(sc, func(i, j int) bool {
		if sc[i].count != sc[j].count {
			return sc[i].count > sc[j].count
		}
		return sc[i].state < sc[j].state
	})
	fmt.Printf("States (%d): ", len(sc))
	for _, s := range sc {
		fmt.Printf("%s=%d ", s.state, s.count)
	}
	fmt.Println()
}
