package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/domain/consent"
	"github.com/ehr/medbridge/internal/domain/registry"
	"github.com/ehr/medbridge/internal/domain/tenant"
	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/internal/platform/notification"
	"github.com/ehr/medbridge/internal/platform/throttle"
	"github.com/ehr/medbridge/pkg/apperror"
)

var (
	ErrResendLimited = apperror.New(apperror.KindRateLimited, "otp_resend_limited",
		"too many consent codes requested for this patient, try again later")
	ErrNoContact = apperror.New(apperror.KindValidation, "no_contact",
		"patient has no phone or email on record to receive a consent code")
)

// Identities searches the identity index.
type Identities interface {
	FindByNationalID(ctx context.Context, nationalID string) ([]*registry.Entry, error)
	Get(ctx context.Context, id uuid.UUID) (*registry.Entry, error)
}

// ConsentIssuer issues consent codes.
type ConsentIssuer interface {
	Issue(ctx context.Context, entryID uuid.UUID) (*consent.Issued, error)
	TTL() time.Duration
}

// Hospitals looks up tenant display data.
type Hospitals interface {
	TenantName(ctx context.Context, tenantID uuid.UUID) (string, error)
	ForPartition(ctx context.Context, p db.Partition) (*tenant.Tenant, error)
}

// Sender delivers a message without blocking the caller.
type Sender interface {
	Send(ctx context.Context, addr, subject, body string)
}

// Match is one search hit: a record held by another hospital.
type Match struct {
	EntryID      uuid.UUID `json:"entry_id"`
	NationalID   string    `json:"national_id"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	HospitalName string    `json:"hospital_name"`
}

// ConsentRequested is returned after a code was issued. DemoCode is only
// filled when demo echo is enabled.
type ConsentRequested struct {
	EntryID   uuid.UUID `json:"entry_id"`
	SentTo    string    `json:"sent_to"`
	ExpiresAt time.Time `json:"expires_at"`
	DemoCode  string    `json:"demo_code,omitempty"`
}

// Submission is the caller's half of a transfer request.
type Submission struct {
	EntryID              uuid.UUID `json:"entry_id" validate:"required"`
	Code                 string    `json:"code" validate:"required,len=6,numeric"`
	IncludePrescriptions bool      `json:"include_prescriptions"`
}

// ServiceDeps groups the collaborators of Service.
type ServiceDeps struct {
	Identities Identities
	Consents   ConsentIssuer
	Hospitals  Hospitals
	Engine     *Engine
	Limiter    throttle.Limiter
	Sender     Sender
	Templates  *notification.TemplateEngine
	DemoCodes  bool
	Logger     zerolog.Logger
}

// Service is the consent flow exposed to hospital staff: search, request
// a code, submit it.
type Service struct {
	identities Identities
	consents   ConsentIssuer
	hospitals  Hospitals
	engine     *Engine
	limiter    throttle.Limiter
	sender     Sender
	templates  *notification.TemplateEngine
	demoCodes  bool
	logger     zerolog.Logger
}

func NewService(d ServiceDeps) *Service {
	if d.Templates == nil {
		d.Templates = notification.NewTemplateEngine()
	}
	return &Service{
		identities: d.Identities,
		consents:   d.Consents,
		hospitals:  d.Hospitals,
		engine:     d.Engine,
		limiter:    d.Limiter,
		sender:     d.Sender,
		templates:  d.Templates,
		demoCodes:  d.DemoCodes,
		logger:     d.Logger,
	}
}

// Search lists records for nationalID held by hospitals other than the
// caller's.
func (s *Service) Search(ctx context.Context, own db.Partition, nationalID string) ([]*Match, error) {
	entries, err := s.identities.FindByNationalID(ctx, strings.TrimSpace(nationalID))
	if err != nil {
		return nil, err
	}
	names := make(map[db.Partition]string)
	matches := []*Match{}
	for _, e := range entries {
		if e.Partition == own {
			continue
		}
		name, ok := names[e.Partition]
		if !ok {
			t, err := s.hospitals.ForPartition(ctx, e.Partition)
			if err != nil {
				return nil, err
			}
			name = t.Name
			names[e.Partition] = name
		}
		matches = append(matches, &Match{
			EntryID:      e.ID,
			NationalID:   e.NationalID,
			FullName:     e.FullName,
			Phone:        e.Phone,
			HospitalName: name,
		})
	}
	return matches, nil
}

// RequestConsent issues a fresh code for entryID and sends it to the
// patient's contact on record. Requests per entry are capped per window.
func (s *Service) RequestConsent(ctx context.Context, caller auth.Principal, own db.Partition, entryID uuid.UUID) (*ConsentRequested, error) {
	entry, err := s.identities.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Partition == own {
		return nil, ErrSamePartition
	}
	addr := entry.ContactAddress()
	if addr == "" {
		return nil, ErrNoContact
	}

	allowed, err := s.limiter.Allow(ctx, "consent:"+entryID.String())
	if err != nil {
		s.logger.Warn().Err(err).Str("entry_id", entryID.String()).Msg("consent limiter unavailable, allowing request")
		allowed = true
	}
	if !allowed {
		metrics.ConsentRequestsThrottled.Inc()
		return nil, ErrResendLimited
	}

	issued, err := s.consents.Issue(ctx, entryID)
	if err != nil {
		return nil, err
	}

	hospital, err := s.hospitals.TenantName(ctx, caller.TenantID)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", caller.TenantID.String()).Msg("tenant name lookup failed")
		hospital = "A hospital"
	}
	subject, body, err := s.templates.Render(notification.TemplateConsentCode, map[string]string{
		"hospital": hospital,
		"code":     issued.Code,
		"ttl":      s.consents.TTL().String(),
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.New(apperror.KindInternal, "template_failed", "could not render notification"), "transfer.request_consent", err)
	}
	s.sender.Send(ctx, addr, subject, body)

	res := &ConsentRequested{
		EntryID:   entryID,
		SentTo:    maskAddress(addr),
		ExpiresAt: issued.ExpiresAt,
	}
	if s.demoCodes {
		res.DemoCode = issued.Code
	}
	return res, nil
}

// Submit runs the transfer into the caller's own hospital.
func (s *Service) Submit(ctx context.Context, caller auth.Principal, sub Submission) (uuid.UUID, error) {
	return s.engine.Transfer(ctx, Request{
		DestinationTenantID:  caller.TenantID,
		EntryID:              sub.EntryID,
		Code:                 strings.TrimSpace(sub.Code),
		IncludePrescriptions: sub.IncludePrescriptions,
	})
}

// maskAddress keeps the domain of an email or the last four digits of a
// phone number.
func maskAddress(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at > 0 {
		return addr[:1] + strings.Repeat("*", at-1) + addr[at:]
	}
	if len(addr) <= 4 {
		return addr
	}
	return strings.Repeat("*", len(addr)-4) + addr[len(addr)-4:]
}
