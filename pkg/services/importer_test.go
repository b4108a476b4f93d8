package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/mapping"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
)

const componentMapping = `source_column,target_table,target_column,extra_kwargs
Cement,mix_component,dosage_kg_m3,"{""class_code"":""CEMENT"",""subtype_code"":""CEM I"",""reference_key"":""CEMENT""}"
Water,mix_component,dosage_kg_m3,"{""class_code"":""WATER"",""subtype_code"":""TAP""}"
Fly ash,mix_component,dosage_kg_m3,"{""class_code"":""SCM"",""subtype_code"":""FA"",""is_cementitious"":true,""reference_key"":""FA""}"
`

const fullMapping = componentMapping + `Cement density,material,density_kg_m3,"{""material_ref_key"":""CEMENT""}"
Blaine,material_property,value,"{""material_ref_key"":""CEMENT"",""property_name"":""blaine_fineness"",""unit"":""m2/kg""}"
FA LOI,scm_detail,loi_pct,"{""material_ref_key"":""FA""}"
Slump,concrete_mix,notes,"{""prefix"":""Slump: ""}"
Remarks,concrete_mix,notes,"{""prefix"":""Remarks: ""}"
fc28,performance_result,value,"{""category"":""hardened"",""property_name"":""compressive_strength"",""age_days"":28,""unit"":""MPa"",""specimen"":""cube 150"",""curing"":""water 20C""}"
`

type importFixture struct {
	store *fakeStore
	tx    *fakeTx
	dir   string
	logs  *observer.ObservedLogs
	gate  readonly.StaticGate
	opts  ImportOptions
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	store := newFakeStore()
	return &importFixture{
		store: store,
		tx:    &fakeTx{store: store},
		dir:   t.TempDir(),
		opts:  ImportOptions{Bounds: NewRatioBounds(0.20, 1.00)},
	}
}

func (f *importFixture) service() ImportService {
	core, logs := observer.New(zapcore.WarnLevel)
	f.logs = logs
	return NewImportService(
		f.tx,
		f.gate,
		&fakeDatasetRepo{s: f.store},
		&fakeMaterialRepo{s: f.store},
		&fakeMixRepo{s: f.store},
		&fakeReferenceRepo{s: f.store},
		audit.NewContentAuditor(zap.New(core)),
		f.opts,
		zap.NewNop(),
	)
}

func (f *importFixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *importFixture) run(t *testing.T, desc *models.DatasetDescriptor, csvContent, mappingContent string) (*models.ImportReport, error) {
	t.Helper()
	csvPath := f.write(t, desc.Prefix+".csv", csvContent)
	mappingPath := f.write(t, desc.Prefix+"_mapping.csv", mappingContent)
	return f.service().ImportDataset(context.Background(), desc, csvPath, mappingPath)
}

func (f *importFixture) mixByCode(t *testing.T, code string) models.ConcreteMix {
	t.Helper()
	for _, m := range f.store.mixes {
		if m.MixCode == code {
			return m
		}
	}
	t.Fatalf("mix %s not found", code)
	return models.ConcreteMix{}
}

func (f *importFixture) componentsOf(mixID int64) []models.MixComponent {
	var out []models.MixComponent
	for _, c := range f.store.components {
		if c.MixID == mixID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *importFixture) materialClass(id int64) string {
	return f.store.materials[id].ClassCode
}

func descriptor(name, prefix string) *models.DatasetDescriptor {
	return &models.DatasetDescriptor{Name: name, Prefix: prefix}
}

func TestImportDataset_CementAndWater(t *testing.T) {
	f := newImportFixture(t)

	report, err := f.run(t, descriptor("Lab A", "LABA"), "Cement,Water,Fly ash\n300,150,0\n300,150,\n", componentMapping)
	require.NoError(t, err)

	assert.Equal(t, 2, report.RowsProcessed)
	assert.Equal(t, 0, report.RowsSkipped)
	assert.Equal(t, 2, report.MixesCreated)
	assert.Equal(t, 4, report.ComponentsCreated)
	assert.Equal(t, 2, report.MaterialsCreated)
	assert.Equal(t, 0, report.MaterialsReused)
	assert.Empty(t, report.Warnings)

	for _, code := range []string{"LABA-1", "LABA-2"} {
		mix := f.mixByCode(t, code)
		assertRatio(t, "0.50", mix.WCRatio)
		assertRatio(t, "0.50", mix.WBRatio)

		components := f.componentsOf(mix.ID)
		require.Len(t, components, 2)
		assert.Equal(t, models.ClassCement, f.materialClass(components[0].MaterialID))
		assert.True(t, components[0].IsCementitious)
		assert.Equal(t, models.ClassWater, f.materialClass(components[1].MaterialID))
		assert.False(t, components[1].IsCementitious)
	}
	assert.Len(t, f.store.materials, 2)

	ds, ok := func() (models.Dataset, bool) {
		for _, d := range f.store.datasets {
			return d, true
		}
		return models.Dataset{}, false
	}()
	require.True(t, ok)
	assert.NotNil(t, ds.LastImportAt)
}

func TestImportDataset_ZeroCementLeavesWCNull(t *testing.T) {
	f := newImportFixture(t)

	report, err := f.run(t, descriptor("Lab B", "LABB"), "Cement,Water,Fly ash\n0,180,\n", componentMapping)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MixesCreated)

	mix := f.mixByCode(t, "LABB-1")
	assert.False(t, mix.WCRatio.Valid)
	assert.False(t, mix.WBRatio.Valid)

	components := f.componentsOf(mix.ID)
	require.Len(t, components, 1)
	assert.Equal(t, models.ClassWater, f.materialClass(components[0].MaterialID))
}

func TestImportDataset_ThousandsSeparatorDosageIsAbsent(t *testing.T) {
	f := newImportFixture(t)

	report, err := f.run(t, descriptor("Lab T", "LABT"), "Cement,Water,Fly ash\n300,150,\"1,050\"\n", componentMapping)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MixesCreated)
	assert.Zero(t, report.RowsSkipped)

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Fly ash", report.Warnings[0].Column)
	assert.Contains(t, report.Warnings[0].Message, "thousands separator")
	assert.Contains(t, report.Warnings[0].Message, "treated as absent")

	mix := f.mixByCode(t, "LABT-1")
	components := f.componentsOf(mix.ID)
	require.Len(t, components, 2)
	for _, c := range components {
		assert.NotEqual(t, models.ClassSCM, f.materialClass(c.MaterialID))
	}
	assertRatio(t, "0.50", mix.WBRatio)
}

func TestImportDataset_OutOfRangeValuesAreAbsent(t *testing.T) {
	f := newImportFixture(t)

	csv := "Cement,Water,Fly ash,Cement density,Blaine,FA LOI,Slump,Remarks,fc28\n" +
		"0.01,150,,1000000000000,,,,,99999999999\n"
	report, err := f.run(t, descriptor("Lab O", "LABO"), csv, fullMapping)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MixesCreated)
	assert.Zero(t, report.RowsSkipped)
	assert.Equal(t, 2, report.ComponentsCreated)

	mix := f.mixByCode(t, "LABO-1")
	assert.False(t, mix.WCRatio.Valid)
	assert.False(t, mix.WBRatio.Valid)
	assert.Len(t, f.componentsOf(mix.ID), 2)

	for _, m := range f.store.materials {
		assert.False(t, m.DensityKgM3.Valid, "material %d kept an overflowing density", m.ID)
	}
	assert.Empty(t, f.store.results)

	var messages []string
	for _, w := range report.Warnings {
		assert.Equal(t, 1, w.Row)
		messages = append(messages, w.Column+": "+w.Message)
	}
	assert.ElementsMatch(t, []string{
		": computed value 15000 out of range for concrete_mix.w_c_ratio NUMERIC(6,2), stored as null",
		": computed value 15000 out of range for concrete_mix.w_b_ratio NUMERIC(6,2), stored as null",
		"Cement density: value 1000000000000 out of range for material.density_kg_m3 NUMERIC(10,3), treated as absent",
		"fc28: compressive_strength result value 99999999999 out of range for performance_result.value NUMERIC(14,4), treated as absent",
	}, messages)
}

func TestImportDataset_NoNonPositiveDosages(t *testing.T) {
	f := newImportFixture(t)

	csv := "Cement,Water,Fly ash\n" +
		"300,150,-5\n" +
		"0.0004,160,0\n" +
		"350,0,50\n"
	_, err := f.run(t, descriptor("Lab P1", "LABP"), csv, componentMapping)
	require.NoError(t, err)

	require.NotEmpty(t, f.store.components)
	for _, c := range f.store.components {
		assert.True(t, c.DosageKgM3.IsPositive(), "component %d has dosage %s", c.ID, c.DosageKgM3)
	}

	// 0.0004 rounds to zero at the stored scale and is dropped.
	mix := f.mixByCode(t, "LABP-2")
	assert.Len(t, f.componentsOf(mix.ID), 1)
}

func TestImportDataset_InvalidMappingWritesNothing(t *testing.T) {
	f := newImportFixture(t)

	bad := `source_column,target_table,target_column,extra_kwargs
Cement,mix_component,dosage_kg_m3,"{""class_code"":""CEMENT"",""subtype_code"":""CEM I"""
`
	report, err := f.run(t, descriptor("Lab D", "LABD"), "Cement\n300\n", bad)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidMapping))

	assert.Zero(t, f.tx.txCount, "no transaction may start for an invalid mapping")
	assert.Empty(t, f.store.datasets)
	assert.Empty(t, f.store.mixes)
	assert.Empty(t, f.store.materials)
}

func TestImportDataset_UnregisteredReferenceSkipsRuleOnly(t *testing.T) {
	f := newImportFixture(t)

	csv := "Cement,Water,Fly ash,Cement density,Blaine,FA LOI,Slump,Remarks,fc28\n" +
		"300,150,0,3150,380,2.1,120,,42.5\n"
	report, err := f.run(t, descriptor("Lab E", "LABE"), csv, fullMapping)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MixesCreated)
	assert.Equal(t, 0, report.RowsSkipped)
	assert.Equal(t, 0, report.DetailsWritten)
	assert.Equal(t, 1, report.PropertiesWritten)
	assert.Equal(t, 1, report.PerformanceResultsCreated)

	require.Len(t, report.Warnings, 1)
	w := report.Warnings[0]
	assert.Equal(t, 1, w.Row)
	assert.Equal(t, "FA LOI", w.Column)
	assert.Contains(t, w.Message, "rule on line 7 skipped")
	assert.Contains(t, w.Message, `"FA"`)
	assert.Empty(t, f.store.details)
}

func TestImportDataset_MaterialRules(t *testing.T) {
	f := newImportFixture(t)

	csv := "Cement,Water,Fly ash,Cement density,Blaine,FA LOI,Slump,Remarks,fc28\n" +
		"300,150,100,3150,380,\"2,1\",120,cast on site,42.5\n"
	report, err := f.run(t, descriptor("Lab M", "LABM"), csv, fullMapping)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DetailsWritten)
	assert.Equal(t, 1, report.PropertiesWritten)

	var cement models.Material
	for _, m := range f.store.materials {
		if m.ClassCode == models.ClassCement {
			cement = m
		}
	}
	require.True(t, cement.DensityKgM3.Valid)
	assert.Equal(t, "3150", cement.DensityKgM3.Decimal.String())

	require.Len(t, f.store.matProps, 1)
	for _, p := range f.store.matProps {
		assert.Equal(t, cement.ID, p.MaterialID)
		assert.Equal(t, "380", p.Value.Decimal.String())
		require.NotNil(t, p.UnitID)
		assert.Equal(t, f.store.units["m2/kg"].ID, *p.UnitID)
	}

	require.Len(t, f.store.details, 1)
	for _, d := range f.store.details {
		assert.Equal(t, models.TableScmDetail, d.Table)
		assert.Equal(t, "loi_pct", d.Column)
		assert.Equal(t, "2.1", d.Number.String())
	}

	mix := f.mixByCode(t, "LABM-1")
	assert.Equal(t, "Slump: 120; Remarks: cast on site; ", mix.Notes)
	assertRatio(t, "0.50", mix.WCRatio)
	assertRatio(t, "0.38", mix.WBRatio)

	require.Len(t, f.store.results, 1)
	for _, res := range f.store.results {
		assert.Equal(t, mix.ID, res.MixID)
		assert.Equal(t, models.CategoryHardened, res.Category)
		assert.Equal(t, "42.5", res.Value.String())
		require.NotNil(t, res.AgeDays)
		assert.Equal(t, 28, *res.AgeDays)
		require.NotNil(t, res.UnitID)
		assert.Equal(t, f.store.units["MPa"].ID, *res.UnitID)
		require.NotNil(t, res.SpecimenID)
		assert.Equal(t, f.store.lookups["specimen|cube 150"], *res.SpecimenID)
		require.NotNil(t, res.CuringRegimeID)
		assert.Nil(t, res.TestMethodID)
	}
}

func TestImportDataset_SkippedRowsConsumeIndex(t *testing.T) {
	f := newImportFixture(t)
	desc := descriptor("Lab S", "LABS")
	desc.MixNumberColumn = "Mix"

	csv := "Mix,Cement,Water,Fly ash\n" +
		"M1,300,150,\n" +
		",,,\n" +
		",310,155,\n" +
		"M4,320,\n" +
		"M5,330,160,\n"
	report, err := f.run(t, desc, csv, componentMapping)
	require.NoError(t, err)

	assert.Equal(t, 5, report.RowsProcessed)
	assert.Equal(t, 3, report.RowsSkipped)
	assert.Equal(t, 2, report.MixesCreated)
	require.Len(t, report.Skipped, 3)
	assert.Equal(t, 2, report.Skipped[0].Row)
	assert.Equal(t, "row has no values", report.Skipped[0].Reason)
	assert.Equal(t, 3, report.Skipped[1].Row)
	assert.Contains(t, report.Skipped[1].Reason, `mix number column "Mix" is blank`)
	assert.Equal(t, 4, report.Skipped[2].Row)
	assert.Contains(t, report.Skipped[2].Reason, "malformed record on line 5")

	first := f.mixByCode(t, "LABS-1")
	require.NotNil(t, first.SourceMixID)
	assert.Equal(t, "M1", *first.SourceMixID)
	last := f.mixByCode(t, "LABS-5")
	assert.Equal(t, "M5", *last.SourceMixID)
	assert.Len(t, f.store.mixes, 2)
}

func TestImportDataset_RowLevelDatabaseErrorRollsBackRowOnly(t *testing.T) {
	f := newImportFixture(t)
	f.store.failComponentDosage = "77"

	csv := "Cement,Water,Fly ash\n" +
		"300,150,\n" +
		"300,150,77\n" +
		"300,150,60\n"
	report, err := f.run(t, descriptor("Lab R", "LABR"), csv, componentMapping)
	require.NoError(t, err)

	assert.Equal(t, 3, report.RowsProcessed)
	assert.Equal(t, 2, report.MixesCreated)
	assert.Equal(t, 5, report.ComponentsCreated)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 2, report.Skipped[0].Row)
	assert.Equal(t, 1, f.tx.rolledBack)

	_, err = (&fakeMixRepo{s: f.store}).GetByCode(context.Background(), "LABR-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The FA created inside the failed row was rolled back and is created again by row 3.
	assert.Equal(t, 3, report.MaterialsCreated)
	assert.Len(t, f.store.materials, 3)
	mix := f.mixByCode(t, "LABR-3")
	for _, c := range f.componentsOf(mix.ID) {
		_, ok := f.store.materials[c.MaterialID]
		assert.True(t, ok, "component %d points at a missing material", c.ID)
	}
}

func TestImportDataset_RunFatalErrorRollsBackEverything(t *testing.T) {
	f := newImportFixture(t)
	f.tx.savepointErr = errors.New("connection reset")

	report, err := f.run(t, descriptor("Lab F", "LABF"), "Cement,Water,Fly ash\n300,150,\n", componentMapping)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "row 1")
	assert.Empty(t, f.store.datasets)
	assert.Empty(t, f.store.materials)
}

func TestImportDataset_ReusesExistingMaterials(t *testing.T) {
	f := newImportFixture(t)
	f.store.classes[models.ClassCement] = true
	materials := &fakeMaterialRepo{s: f.store}
	older := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "CEM I", SpecificName: "CEM I"}
	newer := &models.Material{ClassCode: models.ClassCement, SubtypeCode: "CEM I", SpecificName: "CEM I"}
	require.NoError(t, materials.Create(context.Background(), older))
	require.NoError(t, materials.Create(context.Background(), newer))

	report, err := f.run(t, descriptor("Lab U", "LABU"), "Cement,Water,Fly ash\n300,150,\n320,160,\n", componentMapping)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MaterialsReused)
	assert.Equal(t, 1, report.MaterialsCreated)
	for _, c := range f.store.components {
		if f.materialClass(c.MaterialID) == models.ClassCement {
			assert.Equal(t, older.ID, c.MaterialID, "duplicates resolve to the lowest id")
		}
	}
}

func TestImportDataset_ReadOnlyRefuses(t *testing.T) {
	f := newImportFixture(t)
	f.gate = true

	_, err := f.run(t, descriptor("Lab RO", "LABRO"), "Cement,Water,Fly ash\n300,150,\n", componentMapping)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrReadOnly)
	assert.Zero(t, f.tx.txCount)
}

func TestImportDataset_RefusesReimportUntilPurged(t *testing.T) {
	f := newImportFixture(t)
	desc := descriptor("Lab X", "LABX")
	csv := "Cement,Water,Fly ash\n300,150,\n"

	_, err := f.run(t, desc, csv, componentMapping)
	require.NoError(t, err)

	_, err = f.run(t, descriptor("Lab X", "LABX"), csv, componentMapping)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatasetAlreadyImported)
	assert.Len(t, f.store.mixes, 1)

	purge := NewDatasetPurgeService(f.tx, f.gate, &fakeDatasetRepo{s: f.store}, zap.NewNop())
	counts, err := purge.PurgeDataset(context.Background(), "Lab X")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Mixes)

	report, err := f.run(t, descriptor("Lab X", "LABX"), csv, componentMapping)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MixesCreated)
	assert.Equal(t, 2, report.MaterialsReused)
	f.mixByCode(t, "LABX-1")
}

func TestImportDataset_PrefixRules(t *testing.T) {
	f := newImportFixture(t)
	csv := "Cement,Water,Fly ash\n300,150,\n"

	_, err := f.run(t, descriptor("First", "SAME"), csv, componentMapping)
	require.NoError(t, err)

	_, err = f.run(t, descriptor("Second", "SAME"), csv, componentMapping)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)

	_, err = f.run(t, descriptor("First", "OTHER"), csv, componentMapping)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)

	_, err = f.run(t, descriptor("Third", "THIRD"), csv, componentMapping)
	require.NoError(t, err)

	codes := make(map[string]bool)
	for _, m := range f.store.mixes {
		assert.False(t, codes[m.MixCode], "duplicate mix code %s", m.MixCode)
		codes[m.MixCode] = true
	}
	assert.Equal(t, map[string]bool{"SAME-1": true, "THIRD-1": true}, codes)
}

func TestImportDataset_DescriptorErrors(t *testing.T) {
	f := newImportFixture(t)
	svc := f.service()
	csvPath := f.write(t, "data.csv", "Cement,Water,Fly ash\n300,150,\n")
	mappingPath := f.write(t, "mapping.csv", componentMapping)

	_, err := svc.ImportDataset(context.Background(), nil, csvPath, mappingPath)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)

	_, err = svc.ImportDataset(context.Background(), descriptor("Bad", "has space"), csvPath, mappingPath)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)

	desc := descriptor("No column", "NOCOL")
	desc.MixNumberColumn = "Mix"
	_, err = svc.ImportDataset(context.Background(), desc, csvPath, mappingPath)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)
	assert.Zero(t, f.tx.txCount)
}

func TestImportDataset_DirectRatioMode(t *testing.T) {
	f := newImportFixture(t)
	desc := descriptor("Direct", "DIR")
	desc.RatioMode = models.RatioModeDirect

	mappingContent := componentMapping + `w/c,concrete_mix,w_c_ratio,
w/b,concrete_mix,w_b_ratio,
`
	report, err := f.run(t, desc, "Cement,Water,Fly ash,w/c,w/b\n300,150,,0.456,abc\n", mappingContent)
	require.NoError(t, err)

	mix := f.mixByCode(t, "DIR-1")
	assertRatio(t, "0.46", mix.WCRatio)
	assert.False(t, mix.WBRatio.Valid)

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "w/b", report.Warnings[0].Column)
	assert.Contains(t, report.Warnings[0].Message, "treated as absent")
}

func TestImportDataset_RatioColumnsIgnoredInComputedMode(t *testing.T) {
	f := newImportFixture(t)

	mappingContent := componentMapping + "w/c,concrete_mix,w_c_ratio,\n"
	report, err := f.run(t, descriptor("Computed", "CMP"), "Cement,Water,Fly ash,w/c\n300,150,,0.99\n", mappingContent)
	require.NoError(t, err)

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, 0, report.Warnings[0].Row)
	assert.Equal(t, "w_c_ratio column ignored in computed ratio mode", report.Warnings[0].Message)
	assertRatio(t, "0.50", f.mixByCode(t, "CMP-1").WCRatio)
}

func TestImportDataset_Warnings(t *testing.T) {
	f := newImportFixture(t)

	mappingContent := componentMapping + `Strength,concrete_mix,target_strength_mpa,
Missing,concrete_mix,notes,
`
	csv := "Cement,Water,Fly ash,Strength\n" +
		"100,150,,C30/37\n" +
		"300,abc,,40\n"
	report, err := f.run(t, descriptor("Warn", "WARN"), csv, mappingContent)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MixesCreated)

	messages := make(map[int][]string)
	for _, w := range report.Warnings {
		messages[w.Row] = append(messages[w.Row], w.Column+": "+w.Message)
	}
	assert.Equal(t, []string{"Missing: mapped source column is not in the CSV header"}, messages[0])
	assert.Contains(t, messages[1], `Strength: target strength not a number: "C30/37", treated as absent`)
	assert.Contains(t, messages[1], ": w/c ratio 1.50 outside expected range 0.20-1.00")
	assert.Equal(t, []string{`Water: dosage not a number: "abc", treated as absent`}, messages[2])

	second := f.mixByCode(t, "WARN-2")
	assert.False(t, second.WCRatio.Valid, "no water means no ratio")
	require.True(t, second.TargetStrengthMPa.Valid)
	assert.Equal(t, "40", second.TargetStrengthMPa.Decimal.String())
}

func TestImportDataset_SuspiciousTextIsStoredAndAudited(t *testing.T) {
	f := newImportFixture(t)
	f.opts.ScreenTextCells = true

	mappingContent := componentMapping + `Remarks,concrete_mix,notes,
`
	csv := "Cement,Water,Fly ash,Remarks\n" +
		"300,150,,laboratory batch\n" +
		"300,150,,1' OR '1'='1\n"
	report, err := f.run(t, descriptor("Sus", "SUS"), csv, mappingContent)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MixesCreated)

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, 2, report.Warnings[0].Row)
	assert.Equal(t, "Remarks", report.Warnings[0].Column)
	assert.Contains(t, report.Warnings[0].Message, "SQL injection pattern")

	assert.Equal(t, "1' OR '1'='1; ", f.mixByCode(t, "SUS-2").Notes)

	entries := f.logs.FilterField(zap.String("dataset", "Sus")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["row"])
}

func TestCheckRow_RowFatalErrors(t *testing.T) {
	run := &importRun{desc: &models.DatasetDescriptor{Name: "Lab R", Prefix: "LABR", MixNumberColumn: "Mix"}}

	tests := []struct {
		name string
		row  *mapping.SourceRow
		want string
	}{
		{"empty", &mapping.SourceRow{Index: 1, Values: map[string]string{"Mix": " ", "Cement": ""}}, "row has no values"},
		{"blank mix number", &mapping.SourceRow{Index: 2, Values: map[string]string{"Mix": "", "Cement": "300"}}, `mix number column "Mix" is blank`},
		{"malformed", &mapping.SourceRow{Index: 3, Line: 4, Err: errors.New("wrong number of fields")}, "malformed record on line 4: wrong number of fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run.checkRow(tt.row)
			require.ErrorIs(t, err, apperrors.ErrRowFatal)
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, isRowLevel(err))
		})
	}

	assert.NoError(t, run.checkRow(&mapping.SourceRow{Index: 4, Values: map[string]string{"Mix": "7", "Cement": "300"}}))
}
