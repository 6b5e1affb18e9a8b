package smps

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// RecordKind identifies which of the three supported INDEP subtypes a
// Record describes.
type RecordKind int

const (
	// Discrete records an enumerated (value, probability) list for one
	// position.
	Discrete RecordKind = iota
	// Normal records a mean/stddev for one position.
	Normal
	// Uniform records a lower/upper bound for one position.
	Uniform
)

// Record is one random position from the STO file's INDEP section: a
// (ColName, RowName) pair together with the distribution governing it.
// ColName == "RHS" marks right-hand-side randomness; RowName equal to
// the core file's objective row name marks (unsupported) cost
// randomness — both conventions are resolved later by Time.RowStage/
// Time.ColStage, not here.
type Record struct {
	ColName string
	RowName string
	Kind    RecordKind

	// Discrete
	Values        []float64
	Probabilities []float64

	// Normal
	Mean   float64
	StdDev float64

	// Uniform
	Lower float64
	Upper float64
}

// Stoch holds every INDEP Record parsed from a <name>.sto file, in file
// order — the order GenerateSample draws scenario entries in, and the
// order stochpattern.Pattern indexes against.
type Stoch struct {
	Records []Record
}

// ParseStoch reads the STO file at path. Only the INDEP section is
// supported, with subtypes DISCRETE, NORMAL, and UNIFORM (BLOCKS and
// scenario-tree sections fail with errs.ErrParse, since this
// decomposition only models independent per-position randomness).
//
// Grammar (one position per line, except DISCRETE which may repeat a
// (col, row) pair across consecutive lines to build up its value list):
//
//	INDEP DISCRETE
//	    <col> <row> <value> <probability>
//	INDEP NORMAL
//	    <col> <row> <mean> <stddev>
//	INDEP UNIFORM
//	    <col> <row> <lower> <upper>
func ParseStoch(path string) (*Stoch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", path, err)
	}
	defer f.Close()

	s := &Stoch{}
	// discreteIdx maps (col,row) -> index into s.Records for in-progress
	// DISCRETE accumulation, so repeated lines for the same position
	// extend one Record instead of creating duplicates.
	discreteIdx := make(map[[2]string]int)

	var kind RecordKind
	inIndep := false
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) == 0 || line[0] == '*' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "STOCH":
			continue
		case "ENDATA":
			continue
		case "INDEP":
			if len(fields) < 2 {
				return nil, parseErr(path, lineNo, "INDEP line missing subtype")
			}
			switch fields[1] {
			case "DISCRETE":
				kind = Discrete
			case "NORMAL":
				kind = Normal
			case "UNIFORM":
				kind = Uniform
			default:
				return nil, parseErr(path, lineNo, "unsupported INDEP subtype "+fields[1])
			}
			inIndep = true
			continue
		case "BLOCKS", "SCENARIOS":
			return nil, parseErr(path, lineNo, "BLOCKS/SCENARIOS sections are not supported")
		}

		if !inIndep {
			return nil, parseErr(path, lineNo, "data line outside INDEP section")
		}
		if len(fields) != 4 {
			return nil, parseErr(path, lineNo, "INDEP data line must have 4 fields")
		}

		col, row := fields[0], fields[1]
		a, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, parseErr(path, lineNo, "bad numeric field "+fields[2])
		}
		b, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, parseErr(path, lineNo, "bad numeric field "+fields[3])
		}

		switch kind {
		case Discrete:
			key := [2]string{col, row}
			if idx, ok := discreteIdx[key]; ok {
				s.Records[idx].Values = append(s.Records[idx].Values, a)
				s.Records[idx].Probabilities = append(s.Records[idx].Probabilities, b)
				continue
			}
			discreteIdx[key] = len(s.Records)
			s.Records = append(s.Records, Record{
				ColName: col, RowName: row, Kind: Discrete,
				Values: []float64{a}, Probabilities: []float64{b},
			})
		case Normal:
			s.Records = append(s.Records, Record{ColName: col, RowName: row, Kind: Normal, Mean: a, StdDev: b})
		case Uniform:
			s.Records = append(s.Records, Record{ColName: col, RowName: row, Kind: Uniform, Lower: a, Upper: b})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: scan: %w", path, err)
	}

	return s, nil
}

// GenerateSample draws one scenario vector, one entry per Record in
// file order, using rng as the shared entropy source. The driver calls
// this once per sample-pool member at construction time; the pool is
// immutable thereafter (spec.md §5).
func GenerateSample(s *Stoch, rng *rand.Rand) []float64 {
	out := make([]float64, len(s.Records))
	for i, rec := range s.Records {
		switch rec.Kind {
		case Discrete:
			out[i] = sampleDiscrete(rec, rng)
		case Normal:
			out[i] = distuv.Normal{Mu: rec.Mean, Sigma: rec.StdDev, Src: rng}.Rand()
		case Uniform:
			out[i] = distuv.Uniform{Min: rec.Lower, Max: rec.Upper, Src: rng}.Rand()
		}
	}
	return out
}

// sampleDiscrete draws from rec's enumerated (value, probability) list
// via inverse-CDF; gonum's distuv has no generic discrete distribution,
// so this is hand-rolled rather than force-fit into distuv.Categorical
// (which indexes outcomes 0..n-1 rather than the caller's own values).
func sampleDiscrete(rec Record, rng *rand.Rand) float64 {
	u := rng.Float64()
	cumulative := 0.0
	for i, p := range rec.Probabilities {
		cumulative += p
		if u <= cumulative {
			return rec.Values[i]
		}
	}
	// floating-point slack: fall back to the last outcome.
	return rec.Values[len(rec.Values)-1]
}

// Positions returns the (ColName, RowName) pair for every Record, in
// file order — the raw material BuildPattern classifies against a
// Time/Core pair.
func (s *Stoch) Positions() [][2]string {
	out := make([][2]string, len(s.Records))
	for i, rec := range s.Records {
		out[i] = [2]string{rec.ColName, rec.RowName}
	}
	return out
}
