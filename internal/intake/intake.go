// Package intake orchestrates the lead pipeline: admission control,
// antifraud, normalization, duplicate suppression, OTP verification, call
// qualification, and the handoff to delivery.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgate/internal/dedupe"
	"github.com/sells-group/leadgate/internal/delivery"
	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/otp"
	"github.com/sells-group/leadgate/internal/ratelimit"
	"github.com/sells-group/leadgate/internal/store"
	"github.com/sells-group/leadgate/internal/validate"
)

// ConsentVersion stamps every created lead with the TCPA consent text
// revision in force.
const ConsentVersion = "1.0"

// QualifiedCallMinDuration is the minimum completed-call length that
// produces a lead. Shorter calls are wrong numbers and hangups.
const QualifiedCallMinDuration = 60

// Call-originated leads carry no form data; these placeholders keep the
// row shape uniform.
const (
	callZip         = "00000"
	callLandingPage = "call-tracking"
)

const smsTemplate = "Your verification code is %s. It expires in 10 minutes."

var (
	ErrRateLimited     = eris.New("intake: rate limited")
	ErrConsentRequired = eris.New("intake: tcpa consent required")
	ErrMissingName     = eris.New("intake: first and last name required")
	ErrLeadNotFound    = eris.New("intake: lead not found")
	ErrNotPendingOTP   = eris.New("intake: lead is not awaiting verification")
)

// SMSSender delivers the one-time code to the visitor's phone.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// Submission is one raw form post, before normalization.
type Submission struct {
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	Zip         string
	City        string
	State       string
	Homeowner   bool
	IssueType   model.IssueType
	Urgency     model.Urgency
	ConsentTCPA bool

	UTMSource   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
	LandingPage string

	IP        string
	UserAgent string

	// Honeypot carries the hidden form field; any value means a bot.
	Honeypot string
	// FormTime is the client-measured time from render to submit.
	FormTime time.Duration
}

// SubmitResult reports the created lead and whether it was suppressed as
// a duplicate.
type SubmitResult struct {
	Lead        *model.Lead
	Duplicate   bool
	DuplicateOf *model.LeadRef
}

// VerifyResult reports the outcome of an OTP check and, when verification
// succeeded, how delivery was dispatched.
type VerifyResult struct {
	Verified bool
	Lead     *model.Lead
	// Delivery is set for synchronous dispatch; Queued means the lead was
	// handed to the async worker instead.
	Delivery *delivery.Outcome
	Queued   bool
}

// CallEvent is one telephony status callback.
type CallEvent struct {
	SID          string
	From         string
	To           string
	Status       string
	Duration     int
	RecordingURL string
	UTMSource    string
	UTMCampaign  string
}

// QualifyResult reports whether a call produced (or re-confirmed) a lead.
type QualifyResult struct {
	Qualified bool
	Call      *model.Call
	Lead      *model.Lead
	Delivery  *delivery.Outcome
	Queued    bool
}

// Service wires the pipeline stages together.
type Service struct {
	store     store.Store
	limiter   *ratelimit.Limiter
	codes     *otp.Service
	detector  *dedupe.Detector
	executor  *delivery.Executor
	queue     *delivery.Queue
	sms       SMSSender
	antifraud validate.Antifraud
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithQueue enables async delivery through the worker queue.
func WithQueue(q *delivery.Queue) Option {
	return func(s *Service) { s.queue = q }
}

// WithSMSSender wires in the OTP transport. Without one, codes are issued
// but not sent; useful only in development.
func WithSMSSender(sms SMSSender) Option {
	return func(s *Service) { s.sms = sms }
}

// WithAntifraud overrides the default antifraud policy.
func WithAntifraud(a validate.Antifraud) Option {
	return func(s *Service) { s.antifraud = a }
}

// New creates the intake Service.
func New(st store.Store, limiter *ratelimit.Limiter, codes *otp.Service, detector *dedupe.Detector, executor *delivery.Executor, opts ...Option) *Service {
	s := &Service{
		store:     st,
		limiter:   limiter,
		codes:     codes,
		detector:  detector,
		executor:  executor,
		antifraud: validate.NewAntifraud(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashIP fingerprints a source address for storage and rate limiting.
// The raw address is never persisted.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// Submit runs the form intake pipeline. The order matters: admission
// checks run before any normalization touches the store, and the phone
// limiter only counts submissions that will actually issue a code.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	ipHash := HashIP(sub.IP)

	if d := s.limiter.Allow(ctx, ipHash, ratelimit.ClassIP); !d.Permitted {
		zap.L().Warn("submission rate limited", zap.String("ip_hash", ipHash))
		return nil, ErrRateLimited
	}

	if err := s.antifraud.Check(sub.Honeypot, sub.FormTime); err != nil {
		zap.L().Warn("submission rejected by antifraud", zap.String("ip_hash", ipHash))
		return nil, err
	}

	if strings.TrimSpace(sub.FirstName) == "" || strings.TrimSpace(sub.LastName) == "" {
		return nil, ErrMissingName
	}
	if !sub.ConsentTCPA {
		return nil, ErrConsentRequired
	}

	phone, err := validate.NormalizePhone(sub.Phone)
	if err != nil {
		return nil, err
	}
	zip, err := validate.NormalizeZip(sub.Zip)
	if err != nil {
		return nil, err
	}

	if d := s.limiter.Allow(ctx, phone, ratelimit.ClassPhone); !d.Permitted {
		zap.L().Warn("otp issuance rate limited", zap.String("phone", phone))
		return nil, ErrRateLimited
	}

	dup, err := s.detector.FindDuplicate(ctx, phone, zip)
	if err != nil {
		return nil, err
	}

	lead := &model.Lead{
		Type:             model.LeadTypeForm,
		Status:           model.LeadStatusPendingOTP,
		FirstName:        strings.TrimSpace(sub.FirstName),
		LastName:         strings.TrimSpace(sub.LastName),
		Phone:            phone,
		Email:            strings.TrimSpace(sub.Email),
		Zip:              zip,
		City:             sub.City,
		State:            sub.State,
		Homeowner:        sub.Homeowner,
		IssueType:        sub.IssueType,
		Urgency:          sub.Urgency,
		ConsentTimestamp: s.now().UTC(),
		ConsentVersion:   ConsentVersion,
		UTMSource:        sub.UTMSource,
		UTMCampaign:      sub.UTMCampaign,
		UTMContent:       sub.UTMContent,
		UTMTerm:          sub.UTMTerm,
		LandingPage:      sub.LandingPage,
		IPHash:           ipHash,
		UserAgent:        sub.UserAgent,
	}

	if dup != nil {
		lead.Status = model.LeadStatusDuplicate
		lead.DuplicateOfLeadID = dup.ID
		created, err := s.store.CreateLead(ctx, lead)
		if err != nil {
			return nil, err
		}
		zap.L().Info("duplicate submission suppressed",
			zap.String("lead_id", created.ID),
			zap.String("duplicate_of", dup.ID),
		)
		return &SubmitResult{Lead: created, Duplicate: true, DuplicateOf: dup}, nil
	}

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Issue(ctx, phone)
	if err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, phone, code); err != nil {
		return nil, err
	}

	zap.L().Info("lead created",
		zap.String("lead_id", created.ID),
		zap.String("zip", created.Zip),
		zap.String("status", string(created.Status)),
	)
	return &SubmitResult{Lead: created}, nil
}

// VerifyOTP checks the submitted code and, on success, promotes the lead
// to VERIFIED and dispatches delivery.
func (s *Service) VerifyOTP(ctx context.Context, leadID, code string) (*VerifyResult, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, ErrLeadNotFound
	}
	if lead.Status != model.LeadStatusPendingOTP {
		return nil, ErrNotPendingOTP
	}

	if d := s.limiter.Allow(ctx, lead.Phone, ratelimit.ClassOTPVerify); !d.Permitted {
		zap.L().Warn("otp verification rate limited", zap.String("lead_id", leadID))
		return nil, ErrRateLimited
	}

	ok, err := s.codes.Verify(ctx, lead.Phone, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &VerifyResult{Verified: false, Lead: lead}, nil
	}

	if err := s.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusVerified); err != nil {
		return nil, err
	}
	lead.Status = model.LeadStatusVerified
	zap.L().Info("lead verified", zap.String("lead_id", lead.ID))

	outcome, queued, err := s.dispatch(ctx, lead)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Verified: true, Lead: lead, Delivery: outcome, Queued: queued}, nil
}

// QualifyCall ingests one telephony status callback. Calls are upserted by
// provider SID; a completed call meeting the duration bar produces a
// QUALIFIED_CALL lead, or re-links to the canonical prior lead when the
// caller is already known.
func (s *Service) QualifyCall(ctx context.Context, ev CallEvent) (*QualifyResult, error) {
	call, err := s.store.UpdateCallStatus(ctx, ev.SID, ev.Status, ev.Duration, ev.RecordingURL)
	if err != nil {
		return nil, err
	}
	if call == nil {
		call, err = s.store.CreateCall(ctx, &model.Call{
			SID:          ev.SID,
			FromNumber:   ev.From,
			ToNumber:     ev.To,
			Status:       ev.Status,
			Duration:     ev.Duration,
			RecordingURL: ev.RecordingURL,
			UTMSource:    ev.UTMSource,
			UTMCampaign:  ev.UTMCampaign,
		})
		if err != nil {
			return nil, err
		}
	}

	if ev.Status != "completed" || ev.Duration < QualifiedCallMinDuration {
		return &QualifyResult{Call: call}, nil
	}

	// Repeated callbacks for an already-qualified call are no-ops.
	if call.LeadID != "" {
		lead, err := s.store.GetLead(ctx, call.LeadID)
		if err != nil {
			return nil, err
		}
		return &QualifyResult{Qualified: true, Call: call, Lead: lead}, nil
	}

	phone, err := validate.NormalizePhone(call.FromNumber)
	if err != nil {
		zap.L().Warn("call from unparseable number, skipping lead",
			zap.String("sid", call.SID),
		)
		return &QualifyResult{Call: call}, nil
	}

	dup, err := s.detector.FindDuplicate(ctx, phone, callZip)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		if err := s.store.LinkCallLead(ctx, call.ID, dup.ID); err != nil {
			return nil, err
		}
		call.LeadID = dup.ID
		lead, err := s.store.GetLead(ctx, dup.ID)
		if err != nil {
			return nil, err
		}
		zap.L().Info("repeat caller linked to existing lead",
			zap.String("call_sid", call.SID),
			zap.String("lead_id", dup.ID),
		)
		return &QualifyResult{Qualified: true, Call: call, Lead: lead}, nil
	}

	lead, err := s.store.CreateLead(ctx, &model.Lead{
		Type:             model.LeadTypeCall,
		Status:           model.LeadStatusQualifiedCall,
		FirstName:        "Call",
		LastName:         "Lead",
		Phone:            phone,
		Zip:              callZip,
		ConsentTimestamp: s.now().UTC(),
		ConsentVersion:   ConsentVersion,
		UTMSource:        call.UTMSource,
		UTMCampaign:      call.UTMCampaign,
		LandingPage:      callLandingPage,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.LinkCallLead(ctx, call.ID, lead.ID); err != nil {
		return nil, err
	}
	call.LeadID = lead.ID
	zap.L().Info("call qualified",
		zap.String("call_sid", call.SID),
		zap.String("lead_id", lead.ID),
		zap.Int("duration", ev.Duration),
	)

	outcome, queued, err := s.dispatch(ctx, lead)
	if err != nil {
		return nil, err
	}
	return &QualifyResult{Qualified: true, Call: call, Lead: lead, Delivery: outcome, Queued: queued}, nil
}

// dispatch hands a lead to delivery: queued when a worker pool is wired,
// synchronous otherwise. A full queue falls back to synchronous delivery
// rather than dropping the lead.
func (s *Service) dispatch(ctx context.Context, lead *model.Lead) (*delivery.Outcome, bool, error) {
	if s.queue != nil {
		if err := s.queue.Enqueue(lead.ID); err == nil {
			return nil, true, nil
		}
		zap.L().Warn("delivery queue full, delivering inline", zap.String("lead_id", lead.ID))
	}
	outcome, err := s.executor.Deliver(ctx, lead)
	return outcome, false, err
}

func (s *Service) sendCode(ctx context.Context, phone, code string) error {
	if s.sms == nil {
		zap.L().Warn("sms sender not configured, code not sent", zap.String("phone", phone))
		return nil
	}
	if err := s.sms.Send(ctx, phone, fmt.Sprintf(smsTemplate, code)); err != nil {
		return eris.Wrap(err, "intake: send verification sms")
	}
	return nil
}
