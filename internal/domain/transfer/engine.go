// Package transfer copies a patient record from one hospital partition to
// another once the patient has released it with a consent code.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/domain/patient"
	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/internal/domain/registry"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/pkg/apperror"
)

var (
	ErrSourceNotFound          = apperror.New(apperror.KindNotFound, "source_not_found", "source patient record not found")
	ErrDestinationUnresolvable = apperror.New(apperror.KindNotFound, "destination_unresolvable", "destination hospital could not be resolved")
	ErrSamePartition           = apperror.New(apperror.KindValidation, "same_partition", "patient record already belongs to this hospital")
)

// ConsentConsumer validates and burns a consent code.
type ConsentConsumer interface {
	ValidateAndConsume(ctx context.Context, entryID uuid.UUID, code string) error
}

// IdentityIndex reads and records identity entries.
type IdentityIndex interface {
	Get(ctx context.Context, id uuid.UUID) (*registry.Entry, error)
	Upsert(ctx context.Context, e *registry.Entry) error
}

// PatientStore reads and writes patients and cases in any partition.
type PatientStore interface {
	GetByID(ctx context.Context, p db.Partition, id uuid.UUID) (*patient.Patient, error)
	Create(ctx context.Context, p db.Partition, pt *patient.Patient) error
	ListCases(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*patient.Case, error)
	CreateCase(ctx context.Context, p db.Partition, c *patient.Case) error
}

// PrescriptionStore reads and writes prescriptions in any partition.
type PrescriptionStore interface {
	ListByPatient(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*prescription.Prescription, error)
	Create(ctx context.Context, p db.Partition, rx *prescription.Prescription) error
	AddItem(ctx context.Context, p db.Partition, item *prescription.Item) error
}

// Request asks for the record behind EntryID to be copied into the
// destination tenant's partition.
type Request struct {
	DestinationTenantID  uuid.UUID
	EntryID              uuid.UUID
	Code                 string
	IncludePrescriptions bool
}

// EngineDeps groups the collaborators of Engine.
type EngineDeps struct {
	Directory     db.PartitionResolver
	Consents      ConsentConsumer
	Index         IdentityIndex
	Patients      PatientStore
	Prescriptions PrescriptionStore
	Tx            db.TxRunner
	Logger        zerolog.Logger
}

// Engine performs transfers. Every step of a transfer runs in a single
// transaction, consent consumption included.
type Engine struct {
	directory     db.PartitionResolver
	consents      ConsentConsumer
	index         IdentityIndex
	patients      PatientStore
	prescriptions PrescriptionStore
	tx            db.TxRunner
	logger        zerolog.Logger
}

func NewEngine(d EngineDeps) *Engine {
	return &Engine{
		directory:     d.Directory,
		consents:      d.Consents,
		index:         d.Index,
		patients:      d.Patients,
		prescriptions: d.Prescriptions,
		tx:            d.Tx,
		logger:        d.Logger,
	}
}

type copyStats struct {
	cases         int
	prescriptions int
	items         int
}

// Transfer validates the consent code and copies the source record into
// the destination partition as a new patient. It returns the new patient
// id. On any failure nothing is written and the code stays unused.
func (e *Engine) Transfer(ctx context.Context, req Request) (uuid.UUID, error) {
	start := time.Now()
	var (
		newID uuid.UUID
		dest  db.Partition
		stats copyStats
	)

	err := e.tx.RunInTx(ctx, "transfer", func(ctx context.Context) error {
		var err error
		dest, err = e.directory.ResolvePartition(ctx, req.DestinationTenantID)
		if err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				return apperror.Wrap(ErrDestinationUnresolvable, "transfer.resolve", err)
			}
			return err
		}

		if err := e.consents.ValidateAndConsume(ctx, req.EntryID, req.Code); err != nil {
			return err
		}

		entry, err := e.index.Get(ctx, req.EntryID)
		if err != nil {
			return sourceErr("transfer.entry", err)
		}
		if entry.Partition == dest {
			return ErrSamePartition
		}

		src, err := e.patients.GetByID(ctx, entry.Partition, entry.PatientID)
		if err != nil {
			return sourceErr("transfer.source", err)
		}
		cases, err := e.patients.ListCases(ctx, entry.Partition, src.ID)
		if err != nil {
			return err
		}
		var rxs []*prescription.Prescription
		if req.IncludePrescriptions {
			rxs, err = e.prescriptions.ListByPatient(ctx, entry.Partition, src.ID)
			if err != nil {
				return err
			}
		}

		copied := *src
		copied.ID = uuid.New()
		copied.CreatedAt = time.Time{}
		if err := e.patients.Create(ctx, dest, &copied); err != nil {
			return err
		}

		for _, c := range cases {
			nc := *c
			nc.ID = uuid.New()
			nc.PatientID = copied.ID
			if err := e.patients.CreateCase(ctx, dest, &nc); err != nil {
				return err
			}
			stats.cases++
		}

		for _, rx := range rxs {
			n, err := e.copyPrescription(ctx, dest, copied.ID, rx)
			if err != nil {
				return err
			}
			stats.prescriptions++
			stats.items += n
		}

		if err := e.index.Upsert(ctx, &registry.Entry{
			NationalID: src.NationalID,
			Partition:  dest,
			PatientID:  copied.ID,
			FullName:   src.FullName,
			Phone:      src.Phone,
			Email:      src.Email,
		}); err != nil {
			return err
		}

		newID = copied.ID
		return nil
	})

	outcome := outcomeOf(err)
	metrics.Transfers.WithLabelValues(outcome).Inc()
	if err != nil {
		ev := e.logger.Warn()
		if outcome == "error" {
			ev = e.logger.Error()
		}
		ev.Err(err).
			Str("entry_id", req.EntryID.String()).
			Str("destination_tenant", req.DestinationTenantID.String()).
			Str("outcome", outcome).
			Dur("duration", time.Since(start)).
			Msg("transfer failed")
		return uuid.Nil, err
	}

	e.logger.Info().
		Str("entry_id", req.EntryID.String()).
		Str("partition", dest.String()).
		Str("patient_id", newID.String()).
		Int("cases", stats.cases).
		Int("prescriptions", stats.prescriptions).
		Int("items", stats.items).
		Dur("duration", time.Since(start)).
		Msg("transfer committed")
	return newID, nil
}

func (e *Engine) copyPrescription(ctx context.Context, dest db.Partition, patientID uuid.UUID, rx *prescription.Prescription) (int, error) {
	nrx := &prescription.Prescription{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  rx.DoctorID,
		Diagnosis: rx.Diagnosis,
		Notes:     rx.Notes,
		CreatedAt: rx.CreatedAt,
	}
	if err := e.prescriptions.Create(ctx, dest, nrx); err != nil {
		return 0, err
	}
	for _, it := range rx.Items {
		ni := *it
		ni.ID = uuid.New()
		ni.PrescriptionID = nrx.ID
		if err := e.prescriptions.AddItem(ctx, dest, &ni); err != nil {
			return 0, err
		}
	}
	return len(rx.Items), nil
}

func sourceErr(op string, err error) error {
	if apperror.IsKind(err, apperror.KindNotFound) {
		return apperror.Wrap(ErrSourceNotFound, op, err)
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperror.IsKind(err, apperror.KindToken):
		return "token_rejected"
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrDestinationUnresolvable):
		return "not_found"
	case apperror.IsKind(err, apperror.KindValidation):
		return "rejected"
	default:
		return "error"
	}
}
