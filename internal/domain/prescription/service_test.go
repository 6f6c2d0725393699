package prescription

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/db/dbtest"
	"github.com/ehr/medbridge/pkg/apperror"
)

var partA = db.MustPartition("tenant_aaaaaa0001")

// -- Mock Repository --

type mockRepo struct {
	mu         sync.Mutex
	rxs        map[uuid.UUID]*Prescription
	items      map[uuid.UUID][]*Item
	failOnItem int
	itemWrites int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		rxs:   make(map[uuid.UUID]*Prescription),
		items: make(map[uuid.UUID][]*Item),
	}
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	rxs := make(map[uuid.UUID]*Prescription, len(m.rxs))
	for k, v := range m.rxs {
		cp := *v
		rxs[k] = &cp
	}
	items := make(map[uuid.UUID][]*Item, len(m.items))
	for k, v := range m.items {
		items[k] = append([]*Item(nil), v...)
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rxs = rxs
		m.items = items
	}
}

func (m *mockRepo) Create(_ context.Context, _ db.Partition, rx *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rx
	cp.Items = nil
	m.rxs[rx.ID] = &cp
	return nil
}

func (m *mockRepo) AddItem(_ context.Context, _ db.Partition, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemWrites++
	if m.failOnItem > 0 && m.itemWrites == m.failOnItem {
		return apperror.Storage("prescription.add_item", errors.New("disk full"))
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	cp := *item
	m.items[item.PrescriptionID] = append(m.items[item.PrescriptionID], &cp)
	return nil
}

func (m *mockRepo) withItems(rx *Prescription) *Prescription {
	cp := *rx
	cp.Items = append([]*Item{}, m.items[rx.ID]...)
	return &cp
}

func (m *mockRepo) GetByID(_ context.Context, _ db.Partition, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rx, ok := m.rxs[id]
	if !ok {
		return nil, apperror.NotFound("prescription")
	}
	return m.withItems(rx), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, _ db.Partition, patientID uuid.UUID) ([]*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Prescription{}
	for _, rx := range m.rxs {
		if rx.PatientID == patientID {
			out = append(out, m.withItems(rx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepo) UpdateHeader(_ context.Context, _ db.Partition, rx *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rxs[rx.ID]
	if !ok {
		return apperror.NotFound("prescription")
	}
	existing.Diagnosis = rx.Diagnosis
	existing.Notes = rx.Notes
	return nil
}

func (m *mockRepo) DeleteItems(_ context.Context, _ db.Partition, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, _ db.Partition, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rxs[id]; !ok {
		return apperror.NotFound("prescription")
	}
	delete(m.rxs, id)
	delete(m.items, id)
	return nil
}

func (m *mockRepo) Count(_ context.Context, _ db.Partition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rxs), nil
}

type mockPatients struct {
	known map[uuid.UUID]bool
}

func (m *mockPatients) EnsureExists(_ context.Context, _ db.Partition, id uuid.UUID) error {
	if !m.known[id] {
		return apperror.NotFound("patient")
	}
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	tx       *dbtest.TxRunner
	patient  uuid.UUID
	doctorID uuid.UUID
}

func newTestEnv() *testEnv {
	repo := newMockRepo()
	tx := &dbtest.TxRunner{Snapshot: repo.snapshot}
	patient := uuid.New()
	patients := &mockPatients{known: map[uuid.UUID]bool{patient: true}}
	return &testEnv{
		svc:      NewService(repo, patients, tx),
		repo:     repo,
		tx:       tx,
		patient:  patient,
		doctorID: uuid.New(),
	}
}

func twoItems() Input {
	return Input{
		Diagnosis: "Acute bronchitis",
		Items: []ItemInput{
			{MedicineName: "Amoxicillin", Dosage: "500mg", Frequency: "TID", Duration: "7 days"},
			{MedicineName: "Paracetamol", Dosage: "650mg", Frequency: "SOS"},
		},
	}
}

// -- Tests --

func TestService_Create(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	rx, err := env.svc.Create(ctx, partA, env.patient, env.doctorID, twoItems())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rx.ID)
	require.NotNil(t, rx.DoctorID)
	assert.Equal(t, env.doctorID, *rx.DoctorID)
	require.Len(t, rx.Items, 2)
	assert.Equal(t, rx.ID, rx.Items[0].PrescriptionID)
	assert.Equal(t, []string{"prescription.create"}, env.tx.Ops())

	got, err := env.svc.Get(ctx, partA, rx.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
}

func TestService_Create_RequiresItems(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Create(context.Background(), partA, env.patient, env.doctorID, Input{Diagnosis: "none"})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = env.svc.Create(context.Background(), partA, env.patient, env.doctorID,
		Input{Items: []ItemInput{{MedicineName: "  "}}})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	assert.Empty(t, env.tx.Ops())
}

func TestService_Create_UnknownPatient(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Create(context.Background(), partA, uuid.New(), env.doctorID, twoItems())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	assert.Empty(t, env.tx.Ops())
}

func TestService_Create_ItemFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	env.repo.failOnItem = 2

	_, err := env.svc.Create(context.Background(), partA, env.patient, env.doctorID, twoItems())
	assert.True(t, apperror.IsKind(err, apperror.KindStorage))

	n, _ := env.svc.Count(context.Background(), partA)
	assert.Equal(t, 0, n)
	assert.Empty(t, env.repo.items)
}

func TestService_Update_ReplacesItems(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rx, err := env.svc.Create(ctx, partA, env.patient, env.doctorID, twoItems())
	require.NoError(t, err)

	updated, err := env.svc.Update(ctx, partA, rx.ID, Input{
		Diagnosis: "Community-acquired pneumonia",
		Items:     []ItemInput{{MedicineName: "Azithromycin", Dosage: "500mg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Community-acquired pneumonia", updated.Diagnosis)

	got, err := env.svc.Get(ctx, partA, rx.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Azithromycin", got.Items[0].MedicineName)
}

func TestService_Update_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Update(context.Background(), partA, uuid.New(), twoItems())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestService_ListAndDelete(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rx, err := env.svc.Create(ctx, partA, env.patient, env.doctorID, twoItems())
	require.NoError(t, err)

	list, err := env.svc.ListByPatient(ctx, partA, env.patient)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, env.svc.Delete(ctx, partA, rx.ID))
	_, err = env.svc.Get(ctx, partA, rx.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	_, err = env.svc.ListByPatient(ctx, partA, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}
