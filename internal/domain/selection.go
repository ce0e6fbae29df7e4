package domain

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DatasetKind names one of the three fixed input slots.
type DatasetKind string

const (
	DatasetKOI DatasetKind = "koi"
	DatasetTOI DatasetKind = "toi"
	DatasetK2  DatasetKind = "k2"
)

// DatasetKinds lists the slots in submission order.
var DatasetKinds = []DatasetKind{DatasetKOI, DatasetTOI, DatasetK2}

// Label returns the human readable dataset name.
func (k DatasetKind) Label() string {
	switch k {
	case DatasetKOI:
		return "Kepler Object of Interest"
	case DatasetTOI:
		return "TESS Object of Interest"
	case DatasetK2:
		return "K2 (Kepler's Second Mission)"
	default:
		return string(k)
	}
}

// Slot holds either a local file path or a demo flag, never both.
type Slot struct {
	FilePath string `json:"filePath,omitempty"`
	UseDemo  bool   `json:"useDemo,omitempty"`
}

// Empty reports whether the slot carries no input.
func (s Slot) Empty() bool {
	return s.FilePath == "" && !s.UseDemo
}

// InputSelection is the set of slots chosen for one submission.
type InputSelection struct {
	slots map[DatasetKind]Slot
}

// NewInputSelection returns a selection with every slot empty.
func NewInputSelection() *InputSelection {
	return &InputSelection{slots: make(map[DatasetKind]Slot, len(DatasetKinds))}
}

// SetFile stores a file for the slot and clears its demo flag.
func (s *InputSelection) SetFile(kind DatasetKind, path string) {
	s.ensure()
	path = strings.TrimSpace(path)
	if path == "" {
		s.slots[kind] = Slot{}
		return
	}
	s.slots[kind] = Slot{FilePath: path}
}

// SetDemo toggles the demo flag; enabling it clears any file in the slot.
func (s *InputSelection) SetDemo(kind DatasetKind, on bool) {
	s.ensure()
	if on {
		s.slots[kind] = Slot{UseDemo: true}
		return
	}
	slot := s.slots[kind]
	slot.UseDemo = false
	s.slots[kind] = slot
}

// Clear empties one slot.
func (s *InputSelection) Clear(kind DatasetKind) {
	s.ensure()
	delete(s.slots, kind)
}

// Slot returns the current content of one slot.
func (s *InputSelection) Slot(kind DatasetKind) Slot {
	if s == nil || s.slots == nil {
		return Slot{}
	}
	return s.slots[kind]
}

// HasAny reports whether at least one slot is non-empty.
func (s *InputSelection) HasAny() bool {
	if s == nil {
		return false
	}
	for _, kind := range DatasetKinds {
		if !s.slots[kind].Empty() {
			return true
		}
	}
	return false
}

func (s *InputSelection) ensure() {
	if s.slots == nil {
		s.slots = make(map[DatasetKind]Slot, len(DatasetKinds))
	}
}

const (
	DefaultLimitTargets = 50
	DefaultSeed         = 7
)

// SubmissionParameters are sent as query parameters with the upload.
type SubmissionParameters struct {
	LimitTargets int `validate:"min=1,max=1000"`
	Seed         int `validate:"min=1,max=100"`
}

var paramValidator = validator.New()

// DefaultParameters returns the parameters used when the user sets none.
func DefaultParameters() SubmissionParameters {
	return SubmissionParameters{LimitTargets: DefaultLimitTargets, Seed: DefaultSeed}
}

// Normalize replaces every out-of-range value with its default.
func (p SubmissionParameters) Normalize() SubmissionParameters {
	if err := paramValidator.Var(p.LimitTargets, "min=1,max=1000"); err != nil {
		p.LimitTargets = DefaultLimitTargets
	}
	if err := paramValidator.Var(p.Seed, "min=1,max=100"); err != nil {
		p.Seed = DefaultSeed
	}
	return p
}

// ParseParameters converts raw user input, falling back to defaults on
// non-numeric or out-of-range values.
func ParseParameters(limitTargets, seed string) SubmissionParameters {
	p := DefaultParameters()
	if n, err := strconv.Atoi(strings.TrimSpace(limitTargets)); err == nil {
		p.LimitTargets = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(seed)); err == nil {
		p.Seed = n
	}
	return p.Normalize()
}
