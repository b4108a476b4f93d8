package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

func newTestNormalizer(t *testing.T) *MaterialNormalizer {
	t.Helper()
	return NewMaterialNormalizer(DefaultSynonyms())
}

func TestMaterialNormalizer_Fold(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		in   string
		want string
	}{
		{"GGBS", "ggbs"},
		{"  Fly_Ash ", "fly ash"},
		{"CEM-I  42.5R", "cem i 42 5r"},
		{"ＧＧＢＳ", "ggbs"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Fold(tt.in))
		})
	}
}

func TestMaterialNormalizer_CanonicalSubtype(t *testing.T) {
	n := newTestNormalizer(t)

	assert.Equal(t, "GGBS", n.CanonicalSubtype(models.ClassSCM, "ggbfs"))
	assert.Equal(t, "GGBS", n.CanonicalSubtype(models.ClassSCM, "Ground granulated blast-furnace slag"))
	assert.Equal(t, "FA", n.CanonicalSubtype(models.ClassSCM, "PFA"))
	assert.Equal(t, "CEM I", n.CanonicalSubtype(models.ClassCement, "opc"))
	assert.Equal(t, "TAP", n.CanonicalSubtype(models.ClassWater, "Water"))
	assert.Equal(t, "RICE HUSK ASH", n.CanonicalSubtype(models.ClassSCM, " rice  husk ash"), "unknown subtypes are upper-cased")
	assert.Equal(t, "OPC", n.CanonicalSubtype(models.ClassSCM, "opc"), "aliases are scoped to their class")
}

func TestMaterialNormalizer_GroupKeyMatchesSubtypeSpellings(t *testing.T) {
	n := newTestNormalizer(t)

	a := &models.Material{ID: 1, ClassCode: models.ClassSCM, SubtypeCode: "GGBS", SpecificName: "GGBS"}
	b := &models.Material{ID: 2, ClassCode: models.ClassSCM, SubtypeCode: "ggbfs", SpecificName: "ggbfs"}
	c := &models.Material{ID: 3, ClassCode: models.ClassSCM, SubtypeCode: "slag", SpecificName: ""}

	assert.Equal(t, n.GroupKey(a), n.GroupKey(b))
	assert.Equal(t, n.GroupKey(a), n.GroupKey(c))
	assert.Equal(t, models.MaterialKey{ClassCode: models.ClassSCM, SubtypeCode: "GGBS", SpecificName: "GGBS"}, n.Canonical(b))
}

func TestMaterialNormalizer_DistinctNamesStaySeparate(t *testing.T) {
	n := newTestNormalizer(t)

	a := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "CEM I", SpecificName: "CEM I 42.5R"}
	b := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "opc", SpecificName: "CEM I 52.5N"}
	c := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "OPC", SpecificName: "cem i  42.5r"}

	assert.NotEqual(t, n.GroupKey(a), n.GroupKey(b))
	assert.Equal(t, n.GroupKey(a), n.GroupKey(c), "names compare case and whitespace insensitively")
	assert.Equal(t, "cem i 42.5r", n.Canonical(c).SpecificName, "names keep their spelling apart from whitespace")
}

func TestMaterialNormalizer_Reclassify(t *testing.T) {
	n := newTestNormalizer(t)

	class, changed := n.Reclassify(models.ClassCement, "ggbfs")
	assert.True(t, changed)
	assert.Equal(t, models.ClassSCM, class)

	class, changed = n.Reclassify("cement", "Fly Ash")
	assert.True(t, changed)
	assert.Equal(t, models.ClassSCM, class)

	class, changed = n.Reclassify(models.ClassCement, "CEM I")
	assert.False(t, changed)
	assert.Equal(t, models.ClassCement, class)

	misfiled := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "slag", SpecificName: "slag"}
	filed := &models.Material{ClassCode: models.ClassSCM, SubtypeCode: "GGBS", SpecificName: "GGBS"}
	assert.Equal(t, n.GroupKey(filed), n.GroupKey(misfiled))
}

func TestMaterialNormalizer_CanonicalIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)

	inputs := []*models.Material{
		{ClassCode: models.ClassSCM, SubtypeCode: "ggbfs", SpecificName: "ggbfs"},
		{ClassCode: models.ClassCement, SubtypeCode: "pfa", SpecificName: "Class F  ash"},
		{ClassCode: models.ClassAdmixture, SubtypeCode: "superplasticiser", SpecificName: "Sika ViscoCrete-3425"},
		{ClassCode: models.ClassFineAggregate, SubtypeCode: "river sand", SpecificName: ""},
	}
	for _, m := range inputs {
		first := n.Canonical(m)
		again := n.Canonical(&models.Material{ClassCode: first.ClassCode, SubtypeCode: first.SubtypeCode, SpecificName: first.SpecificName})
		assert.Equal(t, first, again, "input %+v", m)
	}
}

func TestMaterialNormalizer_ChainedReclassification(t *testing.T) {
	table := DefaultSynonyms()
	table.Reclassify = append(table.Reclassify,
		ReclassificationRule{FromClass: models.ClassFibre, Subtype: "slag", ToClass: models.ClassCement})
	n := NewMaterialNormalizer(table)

	class, changed := n.Reclassify(models.ClassFibre, "slag")
	assert.True(t, changed)
	assert.Equal(t, models.ClassSCM, class)
}

func TestLoadSynonyms_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subtypes:
  scm:
    RHA: ["rice husk ash", "rha"]
    GGBS: ["hochofenschlacke"]
reclassify:
  - from_class: cement
    subtype: RHA
    to_class: SCM
`), 0o600))

	table, err := LoadSynonyms(path)
	require.NoError(t, err)
	n := NewMaterialNormalizer(table)

	assert.Equal(t, "RHA", n.CanonicalSubtype(models.ClassSCM, "Rice Husk Ash"))
	assert.Equal(t, "GGBS", n.CanonicalSubtype(models.ClassSCM, "Hochofenschlacke"))
	assert.Equal(t, "GGBS", n.CanonicalSubtype(models.ClassSCM, "ggbfs"), "built-in aliases survive the merge")

	class, changed := n.Reclassify(models.ClassCement, "rha")
	assert.True(t, changed)
	assert.Equal(t, models.ClassSCM, class)
}

func TestLoadSynonyms_EmptyPathReturnsDefaults(t *testing.T) {
	table, err := LoadSynonyms("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSynonyms(), table)
}

func TestLoadSynonyms_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown field", "aliases:\n  SCM: {}\n", "field aliases not found"},
		{"unknown class", "subtypes:\n  CLAY:\n    MK: [kaolin]\n", `unknown class code "CLAY"`},
		{"rule without subtype", "reclassify:\n  - from_class: CEMENT\n    to_class: SCM\n", "has no subtype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "synonyms.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := LoadSynonyms(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	_, err := LoadSynonyms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
