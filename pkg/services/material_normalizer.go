package services

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// ReclassificationRule moves a subtype that was filed under the wrong class.
type ReclassificationRule struct {
	FromClass string `yaml:"from_class"`
	Subtype   string `yaml:"subtype"`
	ToClass   string `yaml:"to_class"`
}

// SynonymTable is the vocabulary of the normalizer.
type SynonymTable struct {
	// Subtypes maps class code -> canonical subtype -> aliases.
	Subtypes   map[string]map[string][]string `yaml:"subtypes"`
	Reclassify []ReclassificationRule         `yaml:"reclassify"`
}

// DefaultSynonyms returns the built-in vocabulary.
func DefaultSynonyms() *SynonymTable {
	return &SynonymTable{
		Subtypes: map[string]map[string][]string{
			models.ClassCement: {
				"CEM I":   {"opc", "ordinary portland cement", "portland cement", "cem 1", "cem-i"},
				"CEM II":  {"cem 2", "portland composite cement"},
				"CEM III": {"cem 3", "blast furnace cement"},
			},
			models.ClassSCM: {
				"GGBS": {"ggbs", "bfs", "ggbfs", "slag", "blast furnace slag", "ground granulated blast furnace slag"},
				"FA":   {"fa", "fly ash", "flyash", "pfa", "pulverised fuel ash", "pulverized fuel ash"},
				"SF":   {"sf", "silica fume", "microsilica", "micro silica", "csf"},
				"MK":   {"mk", "metakaolin", "calcined clay"},
			},
			models.ClassWater: {
				"TAP": {"tap", "tap water", "potable water", "mains water", "water"},
			},
			models.ClassAdmixture: {
				"SP":  {"sp", "superplasticizer", "superplasticiser", "hrwr", "high range water reducer", "pce"},
				"WRA": {"wra", "water reducer", "water reducing admixture", "plasticizer", "plasticiser"},
				"AEA": {"aea", "ae", "air entrainer", "air entraining agent", "air entraining admixture"},
				"RET": {"ret", "retarder"},
				"ACC": {"acc", "accelerator"},
				"VMA": {"vma", "viscosity modifying admixture"},
			},
			models.ClassCoarseAggregate: {
				"NCA": {"nca", "natural coarse aggregate", "coarse aggregate"},
				"RCA": {"rca", "recycled coarse aggregate", "recycled concrete aggregate"},
			},
			models.ClassFineAggregate: {
				"NFA":   {"nfa", "natural fine aggregate", "fine aggregate", "natural sand", "sand"},
				"RFA":   {"rfa", "recycled fine aggregate"},
				"MSAND": {"msand", "m sand", "manufactured sand", "crushed sand"},
			},
			models.ClassFibre: {
				"STEEL": {"steel", "steel fibre", "steel fiber"},
				"PP":    {"pp", "polypropylene", "polypropylene fibre", "polypropylene fiber"},
				"GLASS": {"glass", "glass fibre", "glass fiber", "ar glass"},
			},
		},
		Reclassify: []ReclassificationRule{
			{FromClass: models.ClassCement, Subtype: "GGBS", ToClass: models.ClassSCM},
			{FromClass: models.ClassCement, Subtype: "FA", ToClass: models.ClassSCM},
			{FromClass: models.ClassCement, Subtype: "SF", ToClass: models.ClassSCM},
		},
	}
}

// LoadSynonyms reads extra vocabulary from a YAML file and merges it over
// the built-in table. An empty path returns the built-in table.
func LoadSynonyms(path string) (*SynonymTable, error) {
	table := DefaultSynonyms()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file: %w", err)
	}

	var extra SynonymTable
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&extra); err != nil {
		return nil, fmt.Errorf("failed to parse synonyms file %s: %w", path, err)
	}
	if err := table.merge(&extra); err != nil {
		return nil, fmt.Errorf("synonyms file %s: %w", path, err)
	}
	return table, nil
}

func (t *SynonymTable) merge(extra *SynonymTable) error {
	for class, subtypes := range extra.Subtypes {
		class = models.NormalizeClassCode(class)
		if !models.IsValidClassCode(class) {
			return fmt.Errorf("unknown class code %q", class)
		}
		if t.Subtypes[class] == nil {
			t.Subtypes[class] = make(map[string][]string)
		}
		for canonical, aliases := range subtypes {
			t.Subtypes[class][canonical] = append(t.Subtypes[class][canonical], aliases...)
		}
	}
	for _, rule := range extra.Reclassify {
		rule.FromClass = models.NormalizeClassCode(rule.FromClass)
		rule.ToClass = models.NormalizeClassCode(rule.ToClass)
		if !models.IsValidClassCode(rule.FromClass) || !models.IsValidClassCode(rule.ToClass) {
			return fmt.Errorf("reclassify rule %s/%s -> %s names an unknown class", rule.FromClass, rule.Subtype, rule.ToClass)
		}
		if strings.TrimSpace(rule.Subtype) == "" {
			return fmt.Errorf("reclassify rule from %s has no subtype", rule.FromClass)
		}
		t.Reclassify = append(t.Reclassify, rule)
	}
	return nil
}

// MaterialNormalizer maps material identities to canonical form.
type MaterialNormalizer struct {
	// aliases maps class code -> folded alias -> canonical subtype.
	aliases    map[string]map[string]string
	reclassify []ReclassificationRule
	fold       cases.Caser
}

// NewMaterialNormalizer compiles a synonym table.
func NewMaterialNormalizer(table *SynonymTable) *MaterialNormalizer {
	n := &MaterialNormalizer{
		aliases: make(map[string]map[string]string),
		fold:    cases.Fold(),
	}

	// Iterate in sorted order so a conflicting alias resolves the same way every run.
	classes := make([]string, 0, len(table.Subtypes))
	for class := range table.Subtypes {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		canonicals := make([]string, 0, len(table.Subtypes[class]))
		for c := range table.Subtypes[class] {
			canonicals = append(canonicals, c)
		}
		sort.Strings(canonicals)

		m := make(map[string]string)
		for _, canonical := range canonicals {
			if _, ok := m[n.Fold(canonical)]; !ok {
				m[n.Fold(canonical)] = canonical
			}
			for _, alias := range table.Subtypes[class][canonical] {
				if _, ok := m[n.Fold(alias)]; !ok {
					m[n.Fold(alias)] = canonical
				}
			}
		}
		n.aliases[class] = m
	}
	n.reclassify = append(n.reclassify, table.Reclassify...)
	return n
}

// Fold is the comparison form of a text: NFKC, case-folded, with "_", "-"
// and "." read as spaces and runs of whitespace collapsed.
func (n *MaterialNormalizer) Fold(s string) string {
	s = norm.NFKC.String(s)
	s = n.fold.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// display is the stored form of free text: NFKC with whitespace collapsed.
func display(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// CanonicalSubtype returns the canonical subtype of subtype within class.
// Unknown subtypes are upper-cased.
func (n *MaterialNormalizer) CanonicalSubtype(class, subtype string) string {
	if canonical, ok := n.aliases[class][n.Fold(subtype)]; ok {
		return canonical
	}
	return strings.ToUpper(display(subtype))
}

// Reclassify returns the class a material belongs to after the
// reclassification rules, and whether it changed. Rules are applied until
// none matches, so chained rules settle in one call.
func (n *MaterialNormalizer) Reclassify(class, subtype string) (string, bool) {
	original := models.NormalizeClassCode(class)
	class = original
	for range len(n.reclassify) {
		next, ok := n.reclassifyOnce(class, subtype)
		if !ok {
			break
		}
		class = next
	}
	return class, class != original
}

func (n *MaterialNormalizer) reclassifyOnce(class, subtype string) (string, bool) {
	for _, rule := range n.reclassify {
		if rule.FromClass != class || rule.ToClass == class {
			continue
		}
		if n.Fold(subtype) == n.Fold(rule.Subtype) ||
			n.CanonicalSubtype(rule.ToClass, subtype) == n.CanonicalSubtype(rule.ToClass, rule.Subtype) {
			return rule.ToClass, true
		}
	}
	return class, false
}

// Canonical returns the canonical identity of m. Reclassification is applied
// first so a moved material is normalized under its new class.
func (n *MaterialNormalizer) Canonical(m *models.Material) models.MaterialKey {
	class, _ := n.Reclassify(m.ClassCode, m.SubtypeCode)
	subtype := n.CanonicalSubtype(class, m.SubtypeCode)

	// A name that only restates the subtype ("ggbfs" for GGBS) takes the
	// canonical subtype, so that such rows group together.
	name := display(m.SpecificName)
	if n.restatesSubtype(class, name, m.SubtypeCode, subtype) {
		name = subtype
	}

	return models.MaterialKey{ClassCode: class, SubtypeCode: subtype, SpecificName: name}
}

// GroupKey is the key materials are grouped by for merging.
func (n *MaterialNormalizer) GroupKey(m *models.Material) string {
	k := n.Canonical(m)
	return k.ClassCode + "|" + k.SubtypeCode + "|" + n.Fold(k.SpecificName)
}

func (n *MaterialNormalizer) restatesSubtype(class, name, rawSubtype, subtype string) bool {
	if name == "" || n.Fold(name) == n.Fold(rawSubtype) {
		return true
	}
	canonical, ok := n.aliases[class][n.Fold(name)]
	return ok && canonical == subtype
}
