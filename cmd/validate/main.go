// Command validate performs integrity checks on an in-memory store fixture:
// station references, callsign uniqueness, address hashes and the
// consistency of geocoding fields with each address's status.
//
// Usage:
//
//	go run ./cmd/validate -fixture internal/storage/memory/testdata/neighbors.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/grid"
	"github.com/couchcryptid/ham-neighbors/internal/storage/memory"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixturePath := flag.String("fixture", "", "path to the JSON fixture")
	flag.Parse()

	if *fixturePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(os.Stdout, *fixturePath); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, path string) int {
	fmt.Fprintln(w, "=== Fixture Integrity Validation ===")
	fmt.Fprintln(w)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read fixture: %v\n", err)
		return 1
	}
	var fx memory.Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: decode fixture: %v\n", err)
		return 1
	}

	phases := validate(fx, data)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d stations, %d addresses\n", len(fx.Stations), len(fx.Addresses))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validate(fx memory.Fixture, raw []byte) []*phase {
	return []*phase{
		validateReferences(fx),
		validateHashes(fx),
		validateGeocodeFields(fx),
		validateLoad(raw),
	}
}

// ── Phase 1: References ──

func validateReferences(fx memory.Fixture) *phase {
	p := &phase{name: "Phase 1: References (stations -> addresses)"}

	addressIDs := map[int64]bool{}
	for _, a := range fx.Addresses {
		if a.ID <= 0 {
			p.errorf("address %q: id must be positive, got %d", a.Line1, a.ID)
			continue
		}
		if addressIDs[a.ID] {
			p.errorf("address id %d is duplicated", a.ID)
		}
		addressIDs[a.ID] = true
	}

	callsigns := map[string]int64{}
	for _, s := range fx.Stations {
		cs := strings.ToUpper(strings.TrimSpace(s.Callsign))
		if cs == "" {
			p.errorf("station %d: empty callsign", s.ID)
			continue
		}
		if prev, ok := callsigns[cs]; ok {
			p.errorf("callsign %s on stations %d and %d", cs, prev, s.ID)
		}
		callsigns[cs] = s.ID
		if !addressIDs[s.AddressID] {
			p.errorf("station %s: address %d does not exist", cs, s.AddressID)
		}
	}
	return p
}

// ── Phase 2: Hashes ──

func validateHashes(fx memory.Fixture) *phase {
	p := &phase{name: "Phase 2: Address hashes"}
	for _, a := range fx.Addresses {
		if a.Hash == "" {
			continue // computed on load
		}
		if want := domain.HashAddress(a.Line1, a.City, a.State, a.PostalCode); a.Hash != want {
			p.errorf("address %d: hash %s, expected %s", a.ID, a.Hash, want)
		}
	}
	return p
}

// ── Phase 3: Geocode fields ──

func validateGeocodeFields(fx memory.Fixture) *phase {
	p := &phase{name: "Phase 3: Geocode fields vs status"}
	for _, a := range fx.Addresses {
		pf := func(format string, args ...any) {
			p.errorf("address %d (%s): "+format, append([]any{a.ID, a.Status}, args...)...)
		}
		hasCoords := a.Latitude != 0 || a.Longitude != 0

		switch a.Status {
		case domain.StatusSuccess:
			checkSuccess(pf, a, hasCoords)
		case domain.StatusPending, domain.StatusNotFound, domain.StatusPOBox:
			if hasCoords {
				pf("has coordinates %g,%g", a.Latitude, a.Longitude)
			}
			if a.GridSquare != "" {
				pf("has grid square %s", a.GridSquare)
			}
		default:
			p.errorf("address %d: unknown geocode_status %d", a.ID, int(a.Status))
		}

		if domain.IsPOBoxOnly(a.Line1) && a.Status == domain.StatusSuccess {
			pf("line1 %q is a PO box", a.Line1)
		}
	}
	return p
}

func checkSuccess(pf func(string, ...any), a domain.Address, hasCoords bool) {
	if !hasCoords {
		pf("has no coordinates")
		return
	}
	code, ok := grid.LatLngToCode(a.Latitude, a.Longitude)
	if !ok {
		pf("coordinates %g,%g have no grid square", a.Latitude, a.Longitude)
		return
	}
	if a.GridSquare != code {
		pf("grid square %q, expected %q", a.GridSquare, code)
	}
}

// ── Phase 4: Store load ──

func validateLoad(raw []byte) *phase {
	p := &phase{name: "Phase 4: Loads into memory store"}
	if err := memory.New().Load(bytes.NewReader(raw)); err != nil {
		p.errorf("%v", err)
	}
	return p
}
