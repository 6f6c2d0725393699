package transfer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/domain/consent"
	"github.com/ehr/medbridge/internal/domain/patient"
	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/internal/domain/registry"
	"github.com/ehr/medbridge/internal/domain/tenant"
	"github.com/ehr/medbridge/internal/platform/clock"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/db/dbtest"
	"github.com/ehr/medbridge/internal/platform/notification"
	"github.com/ehr/medbridge/internal/platform/throttle"
	"github.com/ehr/medbridge/pkg/apperror"
)

var errDiskFull = errors.New("disk full")

// world is an in-memory stand-in for every table a transfer touches. A
// snapshot taken at transaction begin is restored on failure.
type world struct {
	mu            sync.Mutex
	tenants       map[uuid.UUID]*tenant.Tenant
	entries       map[uuid.UUID]*registry.Entry
	tokens        []*consent.Token
	patients      map[db.Partition]map[uuid.UUID]*patient.Patient
	cases         map[db.Partition][]*patient.Case
	prescriptions map[db.Partition][]*prescription.Prescription
	items         map[db.Partition][]*prescription.Item

	failOnCaseWrite int
	caseWrites      int
}

func newWorld() *world {
	return &world{
		tenants:       make(map[uuid.UUID]*tenant.Tenant),
		entries:       make(map[uuid.UUID]*registry.Entry),
		patients:      make(map[db.Partition]map[uuid.UUID]*patient.Patient),
		cases:         make(map[db.Partition][]*patient.Case),
		prescriptions: make(map[db.Partition][]*prescription.Prescription),
		items:         make(map[db.Partition][]*prescription.Item),
	}
}

func (w *world) snapshot() func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries := make(map[uuid.UUID]*registry.Entry, len(w.entries))
	for k, v := range w.entries {
		cp := *v
		entries[k] = &cp
	}
	tokens := make([]*consent.Token, len(w.tokens))
	for i, t := range w.tokens {
		cp := *t
		tokens[i] = &cp
	}
	patients := make(map[db.Partition]map[uuid.UUID]*patient.Patient)
	for p, byID := range w.patients {
		patients[p] = make(map[uuid.UUID]*patient.Patient, len(byID))
		for id, pt := range byID {
			cp := *pt
			patients[p][id] = &cp
		}
	}
	cases := make(map[db.Partition][]*patient.Case)
	for p, v := range w.cases {
		cases[p] = append([]*patient.Case(nil), v...)
	}
	rxs := make(map[db.Partition][]*prescription.Prescription)
	for p, v := range w.prescriptions {
		rxs[p] = append([]*prescription.Prescription(nil), v...)
	}
	items := make(map[db.Partition][]*prescription.Item)
	for p, v := range w.items {
		items[p] = append([]*prescription.Item(nil), v...)
	}

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.entries = entries
		w.tokens = tokens
		w.patients = patients
		w.cases = cases
		w.prescriptions = rxs
		w.items = items
	}
}

// -- Directory --

func (w *world) ResolvePartition(_ context.Context, tenantID uuid.UUID) (db.Partition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tenants[tenantID]
	if !ok {
		return db.Partition{}, apperror.NotFound("tenant")
	}
	return t.Partition, nil
}

func (w *world) TenantName(_ context.Context, tenantID uuid.UUID) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tenants[tenantID]
	if !ok {
		return "", apperror.NotFound("tenant")
	}
	return t.Name, nil
}

func (w *world) ForPartition(_ context.Context, p db.Partition) (*tenant.Tenant, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.tenants {
		if t.Partition == p {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("tenant")
}

// -- Identity index rows --

type entryRepo struct{ w *world }

func (r entryRepo) FindByNationalID(_ context.Context, nationalID string) ([]*registry.Entry, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	out := []*registry.Entry{}
	for _, e := range r.w.entries {
		if e.NationalID == nationalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r entryRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Entry, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	e, ok := r.w.entries[id]
	if !ok {
		return nil, apperror.NotFound("identity entry")
	}
	cp := *e
	return &cp, nil
}

func (r entryRepo) Upsert(_ context.Context, e *registry.Entry) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, existing := range r.w.entries {
		if existing.Partition == e.Partition && existing.PatientID == e.PatientID {
			existing.NationalID = e.NationalID
			existing.FullName = e.FullName
			existing.Phone = e.Phone
			existing.Email = e.Email
			e.ID = existing.ID
			return nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	r.w.entries[e.ID] = &cp
	return nil
}

// -- Consent tokens --

type tokenRepo struct{ w *world }

func (r tokenRepo) Insert(_ context.Context, t *consent.Token) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	cp := *t
	r.w.tokens = append(r.w.tokens, &cp)
	return nil
}

func (r tokenRepo) Latest(_ context.Context, entryID uuid.UUID) (*consent.Token, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var latest *consent.Token
	for _, t := range r.w.tokens {
		if t.EntryID == entryID && (latest == nil || !t.IssuedAt.Before(latest.IssuedAt)) {
			latest = t
		}
	}
	if latest == nil {
		return nil, consent.ErrTokenNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r tokenRepo) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, t := range r.w.tokens {
		if t.ID == id {
			if t.Used {
				return false, nil
			}
			t.Used = true
			return true, nil
		}
	}
	return false, nil
}

func (w *world) usedTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.tokens {
		if t.Used {
			n++
		}
	}
	return n
}

// -- Partition-local clinical data --

type patientStore struct{ w *world }

func (s patientStore) GetByID(_ context.Context, p db.Partition, id uuid.UUID) (*patient.Patient, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	pt, ok := s.w.patients[p][id]
	if !ok {
		return nil, apperror.NotFound("patient")
	}
	cp := *pt
	return &cp, nil
}

func (s patientStore) Create(_ context.Context, p db.Partition, pt *patient.Patient) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.w.patients[p] == nil {
		s.w.patients[p] = make(map[uuid.UUID]*patient.Patient)
	}
	if pt.CreatedAt.IsZero() {
		pt.CreatedAt = time.Now().UTC()
	}
	cp := *pt
	s.w.patients[p][pt.ID] = &cp
	return nil
}

func (s patientStore) ListCases(_ context.Context, p db.Partition, patientID uuid.UUID) ([]*patient.Case, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []*patient.Case{}
	for _, c := range s.w.cases[p] {
		if c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s patientStore) CreateCase(_ context.Context, p db.Partition, c *patient.Case) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	s.w.caseWrites++
	if s.w.failOnCaseWrite > 0 && s.w.caseWrites == s.w.failOnCaseWrite {
		return apperror.Storage("patient.create_case", errDiskFull)
	}
	cp := *c
	s.w.cases[p] = append(s.w.cases[p], &cp)
	return nil
}

type prescriptionStore struct{ w *world }

func (s prescriptionStore) ListByPatient(_ context.Context, p db.Partition, patientID uuid.UUID) ([]*prescription.Prescription, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []*prescription.Prescription{}
	for _, rx := range s.w.prescriptions[p] {
		if rx.PatientID != patientID {
			continue
		}
		cp := *rx
		cp.Items = []*prescription.Item{}
		for _, it := range s.w.items[p] {
			if it.PrescriptionID == rx.ID {
				ic := *it
				cp.Items = append(cp.Items, &ic)
			}
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s prescriptionStore) Create(_ context.Context, p db.Partition, rx *prescription.Prescription) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	cp := *rx
	cp.Items = nil
	s.w.prescriptions[p] = append(s.w.prescriptions[p], &cp)
	return nil
}

func (s prescriptionStore) AddItem(_ context.Context, p db.Partition, item *prescription.Item) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	cp := *item
	s.w.items[p] = append(s.w.items[p], &cp)
	return nil
}

// -- Fixture --

var (
	partCity    = db.MustPartition("tenant_city000001")
	partGeneral = db.MustPartition("tenant_general0002")

	cityID    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	generalID = uuid.MustParse("22222222-2222-2222-2222-222222222222")

	t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
)

const nationalID = "123456789012"

type fixture struct {
	w          *world
	clock      *clock.ManagedClock
	tx         *dbtest.TxRunner
	ledger     *consent.Ledger
	engine     *Engine
	svc        *Service
	notifier   *notification.MockNotifier
	dispatcher *notification.Dispatcher

	sourceID uuid.UUID
	entryID  uuid.UUID
}

// newFixture seeds City Hospital with one patient carrying nCases cases
// and two prescriptions of two and one items. General Hospital is empty.
func newFixture(nCases int) *fixture {
	w := newWorld()
	w.tenants[cityID] = &tenant.Tenant{ID: cityID, Name: "City Hospital", Partition: partCity}
	w.tenants[generalID] = &tenant.Tenant{ID: generalID, Name: "General Hospital", Partition: partGeneral}

	f := &fixture{w: w, clock: clock.NewManaged(t0), notifier: &notification.MockNotifier{}}
	f.tx = &dbtest.TxRunner{Snapshot: w.snapshot}
	f.ledger = consent.NewLedger(tokenRepo{w}, f.tx, f.clock, consent.DefaultTTL)
	f.ledger.SetCodeGenerator(func() (string, error) { return "482913", nil })

	index := registry.NewService(entryRepo{w}, f.tx)
	f.engine = NewEngine(EngineDeps{
		Directory:     w,
		Consents:      f.ledger,
		Index:         index,
		Patients:      patientStore{w},
		Prescriptions: prescriptionStore{w},
		Tx:            f.tx,
		Logger:        zerolog.Nop(),
	})
	f.dispatcher = notification.NewDispatcher(f.notifier, zerolog.Nop())
	f.svc = NewService(ServiceDeps{
		Identities: index,
		Consents:   f.ledger,
		Hospitals:  w,
		Engine:     f.engine,
		Limiter:    throttle.NewMemoryLimiter(5, consent.DefaultTTL),
		Sender:     f.dispatcher,
		DemoCodes:  true,
		Logger:     zerolog.Nop(),
	})

	f.sourceID = uuid.New()
	w.patients[partCity] = map[uuid.UUID]*patient.Patient{
		f.sourceID: {
			ID:          f.sourceID,
			NationalID:  nationalID,
			FullName:    "Asha Rao",
			Phone:       "+919800000001",
			Email:       "asha@example.test",
			DateOfBirth: "1990-04-12",
			BloodGroup:  "B+",
			PatientType: patient.TypeOPD,
			CreatedAt:   t0.Add(-90 * 24 * time.Hour),
		},
	}
	for i := 0; i < nCases; i++ {
		w.cases[partCity] = append(w.cases[partCity], &patient.Case{
			ID:        uuid.New(),
			PatientID: f.sourceID,
			Diagnosis: "visit",
			CreatedAt: t0.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	doctor := uuid.New()
	for i, names := range [][]string{{"Amoxicillin", "Paracetamol"}, {"Cetirizine"}} {
		rx := &prescription.Prescription{
			ID:        uuid.New(),
			PatientID: f.sourceID,
			DoctorID:  &doctor,
			Diagnosis: "infection",
			CreatedAt: t0.Add(-time.Duration(i+1) * time.Hour),
		}
		w.prescriptions[partCity] = append(w.prescriptions[partCity], rx)
		for _, n := range names {
			w.items[partCity] = append(w.items[partCity], &prescription.Item{
				ID:             uuid.New(),
				PrescriptionID: rx.ID,
				MedicineName:   n,
			})
		}
	}

	f.entryID = uuid.New()
	w.entries[f.entryID] = &registry.Entry{
		ID:         f.entryID,
		NationalID: nationalID,
		Partition:  partCity,
		PatientID:  f.sourceID,
		FullName:   "Asha Rao",
		Phone:      "+919800000001",
		Email:      "asha@example.test",
		CreatedAt:  t0,
	}
	return f
}

func (f *fixture) request(code string, includePrescriptions bool) Request {
	return Request{
		DestinationTenantID:  generalID,
		EntryID:              f.entryID,
		Code:                 code,
		IncludePrescriptions: includePrescriptions,
	}
}

func (f *fixture) count(p db.Partition) (patients, cases, rxs, items int) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return len(f.w.patients[p]), len(f.w.cases[p]), len(f.w.prescriptions[p]), len(f.w.items[p])
}
