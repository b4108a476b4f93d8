package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/catalog"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
)

// fakeStore is an in-memory database shared by the fake repositories.
// fakeTx snapshots it on every transaction and savepoint and restores the
// snapshot when the scope fails, like Postgres would.
type fakeStore struct {
	nextID     int64
	classes    map[string]bool
	units      map[string]models.Unit
	properties map[string]models.Property
	methods    map[string]models.TestMethod
	lookups    map[string]int64
	datasets   map[int64]models.Dataset
	materials  map[int64]models.Material
	matProps   map[int64]models.MaterialProperty
	details    map[string]models.MaterialDetail
	mixes      map[int64]models.ConcreteMix
	components map[int64]models.MixComponent
	results    map[int64]models.PerformanceResult
	mergeLog   []models.MaterialMergeLog
	locked     bool

	// Failure injection.
	failComponentDosage string // CreateComponent fails with a check violation for this dosage
	failDeleteMaterial  int64  // Delete fails for this material id
	lockFailures        int    // LockForCanonicalization fails this many times with lock_not_available
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		classes:    make(map[string]bool),
		units:      make(map[string]models.Unit),
		properties: make(map[string]models.Property),
		methods:    make(map[string]models.TestMethod),
		lookups:    make(map[string]int64),
		datasets:   make(map[int64]models.Dataset),
		materials:  make(map[int64]models.Material),
		matProps:   make(map[int64]models.MaterialProperty),
		details:    make(map[string]models.MaterialDetail),
		mixes:      make(map[int64]models.ConcreteMix),
		components: make(map[int64]models.MixComponent),
		results:    make(map[int64]models.PerformanceResult),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// snapshot copies every table. Sequences are not rolled back, as in Postgres.
func (s *fakeStore) snapshot() *fakeStore {
	c := *s
	c.classes = cloneMap(s.classes)
	c.units = cloneMap(s.units)
	c.properties = cloneMap(s.properties)
	c.methods = cloneMap(s.methods)
	c.lookups = cloneMap(s.lookups)
	c.datasets = cloneMap(s.datasets)
	c.materials = cloneMap(s.materials)
	c.matProps = cloneMap(s.matProps)
	c.details = cloneMap(s.details)
	c.mixes = cloneMap(s.mixes)
	c.components = cloneMap(s.components)
	c.results = cloneMap(s.results)
	c.mergeLog = append([]models.MaterialMergeLog(nil), s.mergeLog...)
	return &c
}

func (s *fakeStore) restore(snap *fakeStore) {
	nextID := s.nextID
	lockFailures := s.lockFailures
	*s = *snap
	s.nextID = nextID
	s.lockFailures = lockFailures
}

func pgError(code string) error {
	return &pgconn.PgError{Code: code, Message: "fake " + code}
}

// fakeTx implements database.TxRunner over a fakeStore.
type fakeTx struct {
	store        *fakeStore
	depth        int
	txCount      int
	rolledBack   int
	savepointErr error
}

func (t *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.depth > 0 {
		return errors.New("transaction already in progress")
	}
	t.txCount++
	return t.scoped(ctx, fn)
}

func (t *fakeTx) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.depth == 0 {
		return apperrors.ErrNoTxScope
	}
	if t.savepointErr != nil {
		return t.savepointErr
	}
	return t.scoped(ctx, fn)
}

func (t *fakeTx) scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.store.snapshot()
	t.depth++
	defer func() { t.depth-- }()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		t.rolledBack++
		return err
	}
	return nil
}

// fakeReferenceRepo implements repositories.ReferenceRepository.
type fakeReferenceRepo struct{ s *fakeStore }

var _ repositories.ReferenceRepository = (*fakeReferenceRepo)(nil)

func (r *fakeReferenceRepo) EnsureMaterialClass(_ context.Context, class models.MaterialClass) error {
	r.s.classes[class.ClassCode] = true
	return nil
}

func (r *fakeReferenceRepo) GetOrCreateUnit(_ context.Context, symbol, name string) (*models.Unit, error) {
	u, ok := r.s.units[symbol]
	if !ok {
		u = models.Unit{ID: r.s.id(), Symbol: symbol, Name: name}
		r.s.units[symbol] = u
	}
	return &u, nil
}

func (r *fakeReferenceRepo) GetOrCreateProperty(_ context.Context, name string, unitID *int64) (*models.Property, error) {
	p, ok := r.s.properties[name]
	if !ok {
		p = models.Property{ID: r.s.id(), Name: name, DisplayName: name, UnitID: unitID}
		r.s.properties[name] = p
	}
	return &p, nil
}

func (r *fakeReferenceRepo) GetOrCreateTestMethod(_ context.Context, name string) (*models.TestMethod, error) {
	m, ok := r.s.methods[name]
	if !ok {
		m = models.TestMethod{ID: r.s.id(), Name: name}
		r.s.methods[name] = m
	}
	return &m, nil
}

func (r *fakeReferenceRepo) GetOrCreateLookup(_ context.Context, table, name string) (int64, error) {
	key := table + "|" + name
	id, ok := r.s.lookups[key]
	if !ok {
		id = r.s.id()
		r.s.lookups[key] = id
	}
	return id, nil
}

// fakeDatasetRepo implements repositories.DatasetRepository.
type fakeDatasetRepo struct{ s *fakeStore }

var _ repositories.DatasetRepository = (*fakeDatasetRepo)(nil)

func (r *fakeDatasetRepo) Create(_ context.Context, ds *models.Dataset) error {
	for _, d := range r.s.datasets {
		if d.Name == ds.Name || d.Prefix == ds.Prefix {
			return fmt.Errorf("failed to create dataset: %w: %w", apperrors.ErrConflict, pgError(pgerrcode.UniqueViolation))
		}
	}
	ds.ID = r.s.id()
	ds.CreatedAt = time.Now()
	r.s.datasets[ds.ID] = *ds
	return nil
}

func (r *fakeDatasetRepo) GetByName(_ context.Context, name string) (*models.Dataset, error) {
	for _, d := range r.s.datasets {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeDatasetRepo) UpdateMetadata(_ context.Context, ds *models.Dataset) error {
	d, ok := r.s.datasets[ds.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.Description, d.SourceCitation, d.PublicationYear = ds.Description, ds.SourceCitation, ds.PublicationYear
	r.s.datasets[ds.ID] = d
	return nil
}

func (r *fakeDatasetRepo) MarkImported(_ context.Context, id int64, at time.Time) error {
	d, ok := r.s.datasets[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.LastImportAt = &at
	r.s.datasets[id] = d
	return nil
}

func (r *fakeDatasetRepo) CountMixes(_ context.Context, id int64) (int, error) {
	n := 0
	for _, m := range r.s.mixes {
		if m.DatasetID == id {
			n++
		}
	}
	return n, nil
}

func (r *fakeDatasetRepo) PurgeMixes(_ context.Context, id int64) (*repositories.PurgeCounts, error) {
	counts := &repositories.PurgeCounts{}
	for mixID, m := range r.s.mixes {
		if m.DatasetID != id {
			continue
		}
		for cid, c := range r.s.components {
			if c.MixID == mixID {
				delete(r.s.components, cid)
				counts.Components++
			}
		}
		for rid, res := range r.s.results {
			if res.MixID == mixID {
				delete(r.s.results, rid)
				counts.PerformanceResults++
			}
		}
		delete(r.s.mixes, mixID)
		counts.Mixes++
	}
	return counts, nil
}

// fakeMaterialRepo implements repositories.MaterialRepository.
type fakeMaterialRepo struct{ s *fakeStore }

var _ repositories.MaterialRepository = (*fakeMaterialRepo)(nil)

func (r *fakeMaterialRepo) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.s.materials))
	for id := range r.s.materials {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *fakeMaterialRepo) FindByKey(_ context.Context, key models.MaterialKey) (*models.Material, error) {
	for _, id := range r.sortedIDs() {
		m := r.s.materials[id]
		if m.Key() == key {
			return &m, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeMaterialRepo) Create(_ context.Context, m *models.Material) error {
	if !r.s.classes[m.ClassCode] {
		return pgError(pgerrcode.ForeignKeyViolation)
	}
	m.ID = r.s.id()
	r.s.materials[m.ID] = *m
	return nil
}

func (r *fakeMaterialRepo) GetByID(_ context.Context, id int64) (*models.Material, error) {
	m, ok := r.s.materials[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &m, nil
}

func (r *fakeMaterialRepo) ListAll(_ context.Context) ([]*models.Material, error) {
	var out []*models.Material
	for _, id := range r.sortedIDs() {
		m := r.s.materials[id]
		out = append(out, &m)
	}
	return out, nil
}

func (r *fakeMaterialRepo) SetAttribute(_ context.Context, id int64, column string, value any) error {
	m, ok := r.s.materials[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	switch column {
	case "manufacturer":
		v := value.(string)
		m.Manufacturer = &v
	case "country_of_origin":
		v := value.(string)
		m.CountryOfOrigin = &v
	case "density_kg_m3":
		m.DensityKgM3 = decimal.NewNullDecimal(value.(decimal.Decimal))
	default:
		return fmt.Errorf("column %q is not writable", column)
	}
	r.s.materials[id] = m
	return nil
}

func (r *fakeMaterialRepo) UpsertProperty(_ context.Context, p *models.MaterialProperty) error {
	for id, existing := range r.s.matProps {
		if existing.MaterialID == p.MaterialID && existing.PropertyID == p.PropertyID {
			p.ID = id
			r.s.matProps[id] = *p
			return nil
		}
	}
	p.ID = r.s.id()
	r.s.matProps[p.ID] = *p
	return nil
}

func (r *fakeMaterialRepo) UpsertDetail(_ context.Context, d *models.MaterialDetail) error {
	r.s.details[fmt.Sprintf("%s|%d|%s", d.Table, d.MaterialID, d.Column)] = *d
	return nil
}

func (r *fakeMaterialRepo) LockForCanonicalization(_ context.Context, _ time.Duration) error {
	if r.s.lockFailures > 0 {
		r.s.lockFailures--
		return fmt.Errorf("failed to lock material table: %w", pgError(pgerrcode.LockNotAvailable))
	}
	r.s.locked = true
	return nil
}

func (r *fakeMaterialRepo) UpdateIdentity(_ context.Context, id int64, class, subtype, name string) error {
	m, ok := r.s.materials[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.ClassCode, m.SubtypeCode, m.SpecificName = class, subtype, name
	r.s.materials[id] = m
	return nil
}

func (r *fakeMaterialRepo) Delete(_ context.Context, id int64) error {
	if id == r.s.failDeleteMaterial {
		return pgError(pgerrcode.ForeignKeyViolation)
	}
	if _, ok := r.s.materials[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.materials, id)
	return nil
}

// fakeMixRepo implements repositories.MixRepository.
type fakeMixRepo struct{ s *fakeStore }

var _ repositories.MixRepository = (*fakeMixRepo)(nil)

func (r *fakeMixRepo) Create(_ context.Context, mix *models.ConcreteMix) error {
	for _, m := range r.s.mixes {
		if m.MixCode == mix.MixCode {
			return fmt.Errorf("failed to create mix: %w: %w", apperrors.ErrConflict, pgError(pgerrcode.UniqueViolation))
		}
	}
	mix.ID = r.s.id()
	r.s.mixes[mix.ID] = *mix
	return nil
}

func (r *fakeMixRepo) GetByCode(_ context.Context, code string) (*models.ConcreteMix, error) {
	for _, m := range r.s.mixes {
		if m.MixCode == code {
			return &m, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeMixRepo) UpdateRatios(_ context.Context, id int64, wc, wb decimal.NullDecimal) error {
	m, ok := r.s.mixes[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.WCRatio, m.WBRatio = wc, wb
	r.s.mixes[id] = m
	return nil
}

func (r *fakeMixRepo) CreateComponent(_ context.Context, c *models.MixComponent) error {
	if !c.DosageKgM3.IsPositive() || c.DosageKgM3.String() == r.s.failComponentDosage {
		return pgError(pgerrcode.CheckViolation)
	}
	c.ID = r.s.id()
	r.s.components[c.ID] = *c
	return nil
}

func (r *fakeMixRepo) ListComponents(_ context.Context, mixID int64) ([]*models.MixComponent, error) {
	var out []*models.MixComponent
	for _, c := range r.s.components {
		if c.MixID == mixID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeMixRepo) CreateResult(_ context.Context, res *models.PerformanceResult) error {
	res.ID = r.s.id()
	r.s.results[res.ID] = *res
	return nil
}

func (r *fakeMixRepo) ListResults(_ context.Context, mixID int64) ([]*models.PerformanceResult, error) {
	var out []*models.PerformanceResult
	for _, res := range r.s.results {
		if res.MixID == mixID {
			res := res
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeInspector implements catalog.Inspector with fixed answers.
type fakeInspector struct {
	fks        []catalog.ForeignKey
	uniqueKeys map[string][]catalog.UniqueKey
	err        error
}

var _ catalog.Inspector = (*fakeInspector)(nil)

func (i *fakeInspector) ReferencingForeignKeys(_ context.Context, _, _ string) ([]catalog.ForeignKey, error) {
	return i.fks, i.err
}

func (i *fakeInspector) UniqueKeys(_ context.Context, _, table string) ([]catalog.UniqueKey, error) {
	return i.uniqueKeys[table], nil
}

func materialFK(table string) catalog.ForeignKey {
	return catalog.ForeignKey{
		ConstraintName: table + "_material_id_fkey",
		SourceSchema:   "public",
		SourceTable:    table,
		SourceColumns:  []string{"material_id"},
		TargetSchema:   "public",
		TargetTable:    "material",
		TargetColumns:  []string{"material_id"},
		Deferrable:     true,
	}
}

func defaultInspector() *fakeInspector {
	return &fakeInspector{
		fks: []catalog.ForeignKey{materialFK("mix_component"), materialFK("material_property")},
		uniqueKeys: map[string][]catalog.UniqueKey{
			"material_property": {{IndexName: "material_property_material_id_property_id_key", Columns: []string{"material_id", "property_id"}}},
		},
	}
}

// fakeMergeRepo implements repositories.MaterialMergeRepository for the two
// tables of defaultInspector.
type fakeMergeRepo struct{ s *fakeStore }

var _ repositories.MaterialMergeRepository = (*fakeMergeRepo)(nil)

func (r *fakeMergeRepo) RewriteReferences(_ context.Context, fk catalog.ForeignKey, _ []catalog.UniqueKey, oldID, newID int64) (int64, int64, error) {
	var updated, dropped int64
	switch fk.SourceTable {
	case "mix_component":
		for id, c := range r.s.components {
			if c.MaterialID == oldID {
				c.MaterialID = newID
				r.s.components[id] = c
				updated++
			}
		}
	case "material_property":
		for id, p := range r.s.matProps {
			if p.MaterialID != oldID {
				continue
			}
			collides := false
			for _, q := range r.s.matProps {
				if q.MaterialID == newID && q.PropertyID == p.PropertyID {
					collides = true
				}
			}
			if collides {
				delete(r.s.matProps, id)
				dropped++
				continue
			}
			p.MaterialID = newID
			r.s.matProps[id] = p
			updated++
		}
	}
	return updated, dropped, nil
}

func (r *fakeMergeRepo) CountReferences(_ context.Context, fk catalog.ForeignKey, id int64) (int64, error) {
	var n int64
	for _, c := range r.s.components {
		if fk.SourceTable == "mix_component" && c.MaterialID == id {
			n++
		}
	}
	for _, p := range r.s.matProps {
		if fk.SourceTable == "material_property" && p.MaterialID == id {
			n++
		}
	}
	return n, nil
}

func (r *fakeMergeRepo) CountDangling(_ context.Context, fk catalog.ForeignKey) (int64, error) {
	var n int64
	switch fk.SourceTable {
	case "mix_component":
		for _, c := range r.s.components {
			if _, ok := r.s.materials[c.MaterialID]; !ok {
				n++
			}
		}
	case "material_property":
		for _, p := range r.s.matProps {
			if _, ok := r.s.materials[p.MaterialID]; !ok {
				n++
			}
		}
	}
	return n, nil
}

func (r *fakeMergeRepo) AppendLog(_ context.Context, entry *models.MaterialMergeLog) error {
	entry.ID = r.s.id()
	entry.MergedAt = time.Now()
	r.s.mergeLog = append(r.s.mergeLog, *entry)
	return nil
}
