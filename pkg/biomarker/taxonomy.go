package biomarker

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// BodySystem groups biomarkers into physiological categories for display.
type BodySystem string

const (
	BodySystemBlood      BodySystem = "Blood"
	BodySystemHeart      BodySystem = "Heart"
	BodySystemHormones   BodySystem = "Hormones"
	BodySystemImmunity   BodySystem = "Immunity"
	BodySystemKidneys    BodySystem = "Kidneys"
	BodySystemLiver      BodySystem = "Liver"
	BodySystemMetabolism BodySystem = "Metabolism"
	BodySystemVitamins   BodySystem = "Vitamins"
	BodySystemMinerals   BodySystem = "Minerals"
)

// DefaultBodySystem is assigned to biomarkers whose name is not in the taxonomy.
const DefaultBodySystem = BodySystemMetabolism

var bodySystems = []BodySystem{
	BodySystemBlood,
	BodySystemHeart,
	BodySystemHormones,
	BodySystemImmunity,
	BodySystemKidneys,
	BodySystemLiver,
	BodySystemMetabolism,
	BodySystemVitamins,
	BodySystemMinerals,
}

// BodySystems returns the nine body systems in display order.
func BodySystems() []BodySystem {
	out := make([]BodySystem, len(bodySystems))
	copy(out, bodySystems)
	return out
}

// IsValid reports whether s is one of the known body systems.
func (s BodySystem) IsValid() bool {
	for _, known := range bodySystems {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the body system name.
func (s BodySystem) String() string {
	return string(s)
}

// CanonicalBiomarker is one entry of the taxonomy.
type CanonicalBiomarker struct {
	Name       string     `json:"name" yaml:"name"`
	BodySystem BodySystem `json:"body_system" yaml:"body_system"`
}

// Taxonomy is the fixed, ordered set of canonical biomarker names.
// It is never mutated after construction and is safe for concurrent use.
type Taxonomy struct {
	entries []CanonicalBiomarker
	index   map[string]int
}

// NewTaxonomy builds a taxonomy from entries, preserving their order.
// Names must be non-empty and unique; body systems must be known.
func NewTaxonomy(entries []CanonicalBiomarker) (*Taxonomy, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("taxonomy must contain at least one biomarker")
	}

	t := &Taxonomy{
		entries: make([]CanonicalBiomarker, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("taxonomy entry %d has an empty name", i)
		}
		if !e.BodySystem.IsValid() {
			return nil, fmt.Errorf("taxonomy entry %q has unknown body system %q", e.Name, e.BodySystem)
		}
		if _, dup := t.index[e.Name]; dup {
			return nil, fmt.Errorf("duplicate taxonomy entry %q", e.Name)
		}
		t.index[e.Name] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Len returns the number of canonical biomarkers.
func (t *Taxonomy) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the taxonomy in declaration order.
func (t *Taxonomy) Entries() []CanonicalBiomarker {
	out := make([]CanonicalBiomarker, len(t.entries))
	copy(out, t.entries)
	return out
}

// Names returns the canonical names in declaration order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Name
	}
	return names
}

// Contains reports whether name is a canonical name, verbatim.
func (t *Taxonomy) Contains(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Lookup returns the body system of a canonical name.
func (t *Taxonomy) Lookup(name string) (BodySystem, bool) {
	i, ok := t.index[name]
	if !ok {
		return "", false
	}
	return t.entries[i].BodySystem, true
}

// BodySystemFor resolves name to its body system, falling back to
// DefaultBodySystem for names outside the taxonomy.
func (t *Taxonomy) BodySystemFor(name string) BodySystem {
	if system, ok := t.Lookup(name); ok {
		return system
	}
	return DefaultBodySystem
}

// ByBodySystem groups canonical names by body system, keeping declaration order.
func (t *Taxonomy) ByBodySystem() map[BodySystem][]string {
	groups := make(map[BodySystem][]string, len(bodySystems))
	for _, e := range t.entries {
		groups[e.BodySystem] = append(groups[e.BodySystem], e.Name)
	}
	return groups
}

// taxonomyFile is the on-disk YAML layout of a taxonomy override.
type taxonomyFile struct {
	Version    string               `yaml:"version"`
	Biomarkers []CanonicalBiomarker `yaml:"biomarkers"`
}

// LoadTaxonomyYAML reads a taxonomy from YAML of the form
//
//	biomarkers:
//	  - name: "Hämoglobin (Hb)"
//	    body_system: Blood
//
// The sequence order becomes the matching tie-break order.
func LoadTaxonomyYAML(r io.Reader) (*Taxonomy, error) {
	var file taxonomyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding taxonomy yaml: %w", err)
	}
	return NewTaxonomy(file.Biomarkers)
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(defaultBiomarkers)
	if err != nil {
		panic(fmt.Sprintf("built-in taxonomy is invalid: %v", err))
	}
	return t
}

// defaultBiomarkers is ordered; the order decides matching tie-breaks.
var defaultBiomarkers = []CanonicalBiomarker{
	// Blood
	{"Erythrozyten", BodySystemBlood},
	{"Hämoglobin (Hb)", BodySystemBlood},
	{"Hämatokrit", BodySystemBlood},
	{"MCV", BodySystemBlood},
	{"MCH", BodySystemBlood},
	{"MCHC", BodySystemBlood},
	{"Thrombozyten", BodySystemBlood},
	{"Leukozyten", BodySystemBlood},
	{"Stabkern. Neutrophile", BodySystemBlood},
	{"Segmentkern. Neutrophile", BodySystemBlood},
	{"Eosinophile", BodySystemBlood},
	{"Basophile", BodySystemBlood},
	{"Lymphozyten", BodySystemBlood},
	{"Monozyten", BodySystemBlood},
	{"hsCRP", BodySystemBlood},
	{"LDH", BodySystemBlood},
	{"CK", BodySystemBlood},

	// Heart
	{"Total Cholesterol", BodySystemHeart},
	{"LDL", BodySystemHeart},
	{"HDL", BodySystemHeart},
	{"Triglyzeride", BodySystemHeart},
	{"Apolipoprotein B (ApoB)", BodySystemHeart},
	{"Apolipoprotein A1 (ApoA1)", BodySystemHeart},
	{"Lipoprotein(a) [Lp(a)]", BodySystemHeart},
	{"Omega-3-Index (EPA+DHA, Erythrozyten)", BodySystemHeart},
	{"Homocystein", BodySystemHeart},

	// Hormones
	{"TSH", BodySystemHormones},
	{"ft3", BodySystemHormones},
	{"Ft4", BodySystemHormones},
	{"Cortisol", BodySystemHormones},
	{"Testosteron, gesamt", BodySystemHormones},
	{"Testosteron, frei", BodySystemHormones},
	{"Estradiol", BodySystemHormones},
	{"Progesteron", BodySystemHormones},
	{"Prolactin", BodySystemHormones},
	{"FSH", BodySystemHormones},
	{"LH", BodySystemHormones},
	{"DHEA-S", BodySystemHormones},
	{"SHBG", BodySystemHormones},
	{"PSA", BodySystemHormones},

	// Immunity
	{"IgG", BodySystemImmunity},
	{"IgA", BodySystemImmunity},
	{"IgM", BodySystemImmunity},

	// Kidneys
	{"Kreatinin", BodySystemKidneys},
	{"eGFR", BodySystemKidneys},
	{"Harnstoff (BUN)", BodySystemKidneys},
	{"Osmolalität", BodySystemKidneys},

	// Liver
	{"GGT", BodySystemLiver},
	{"GPT", BodySystemLiver},
	{"GOT", BodySystemLiver},
	{"AP", BodySystemLiver},
	{"Billirubin", BodySystemLiver},
	{"Gesamteiweiß", BodySystemLiver},
	{"CHE", BodySystemLiver},
	{"Albumin", BodySystemLiver},

	// Metabolism
	{"Glucose", BodySystemMetabolism},
	{"HbA1c", BodySystemMetabolism},
	{"Insulin", BodySystemMetabolism},
	{"Harnsäure", BodySystemMetabolism},
	{"Amylase", BodySystemMetabolism},
	{"Lipase", BodySystemMetabolism},

	// Vitamins
	{"Vitamin B12", BodySystemVitamins},
	{"Vitamin D3/25OH", BodySystemVitamins},
	{"Folat (Vitamin B9)", BodySystemVitamins},

	// Minerals
	{"Selen", BodySystemMinerals},
	{"Zink", BodySystemMinerals},
	{"Magnesium", BodySystemMinerals},
	{"Ferritin", BodySystemMinerals},
	{"Transferrinsättigung", BodySystemMinerals},
	{"Kupfer", BodySystemMinerals},
	{"Eisen", BodySystemMinerals},
	{"Phosphat", BodySystemMinerals},
	{"GSH/Glutation", BodySystemMinerals},
	{"Natrium", BodySystemMinerals},
	{"Kalium", BodySystemMinerals},
	{"Calcium", BodySystemMinerals},
	{"Chlorid", BodySystemMinerals},
}
