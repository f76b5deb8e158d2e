package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/avissapr/signflow/internal/metrics"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// OtpService is the step-up authentication layered on top of signer sessions.
//
// Per signer: Unauthenticated -> CodeSent -> Verified, or straight to Verified when the
// mode only asks for a password. Verified is recorded by storing an auth token on the mapping.
type OtpService struct {
	uow      ports.UnitOfWork
	sessions *SessionService
	notifier ports.Notifier
	cfg      *security.SecurityConfig
	lockout  *security.AccountLockout
	sends    *security.RateLimiter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOtpService creates the OTP engine. Call Close to release the send limiter.
func NewOtpService(uow ports.UnitOfWork, sessions *SessionService, notifier ports.Notifier, cfg *security.SecurityConfig, logger zerolog.Logger) *OtpService {
	return &OtpService{
		uow:      uow,
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		lockout:  security.NewAccountLockout(cfg.PasswordLockoutThreshold, cfg.PasswordLockoutDuration),
		sends:    security.NewPerWindowLimiter(cfg.OtpSendLimit, cfg.OtpSendWindow),
		logger:   logger.With().Str("component", "otp").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for expirations and lockouts.
func (s *OtpService) WithClock(now func() time.Time) *OtpService {
	s.now = now
	s.lockout.WithClock(now)
	return s
}

// Close stops background work.
func (s *OtpService) Close() {
	s.sends.Stop()
}

// ValidatePassword checks password against the signer's stored identification and either
// grants authentication or sends a fresh code.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - token: Opaque signer link token
//   - password: Password typed by the signer
//   - strict: Whether a wrong password fails the call; a non-strict call (code resend)
//     proceeds to code delivery in CodeAndPasswordRequired mode
//
// Returns:
//   - string: Masked destination of the sent code, "" when no code was needed
//   - error: InvalidToken, InvalidDocumentCollectionId, InvalidCredential or TooManyOtpRequests
func (s *OtpService) ValidatePassword(ctx context.Context, token, password string, strict bool) (string, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	c, err := s.uow.Stores().Collections.Read(ctx, sess.Mapping.CollectionID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", types.ValidationFailure(types.InvalidDocumentCollectionId, "collection %s not found", sess.Mapping.CollectionID)
	}
	signer := c.Signer(sess.Mapping.SignerID)
	if signer == nil {
		return "", types.SessionFailure(types.InvalidToken, "signer is not part of collection %s", c.ID)
	}

	key := signer.ID.String()
	if s.lockout.IsLocked(key) {
		return "", types.SessionFailure(types.InvalidCredential,
			"too many wrong passwords, retry in %s", s.lockout.LockoutTimeRemaining(key).Round(time.Second))
	}

	mode := signer.Authentication.OtpDetails.Mode
	if !mode.RequiresAuthentication() {
		return "", nil
	}

	if mode.RequiresPassword() {
		if !checkPassword(signer.Authentication.Identification, password) {
			s.lockout.RecordFailedAttempt(key)
			if strict || mode == models.OtpPasswordRequired {
				return "", types.SessionFailure(types.InvalidCredential, "wrong password")
			}
		} else {
			s.lockout.ResetAttempts(key)
			if mode == models.OtpPasswordRequired {
				return "", s.grant(ctx, c, sess.Mapping)
			}
		}
	}

	return s.sendCode(ctx, signer)
}

// IsValidCode reports whether code matches the signer's stored code and has not expired.
// It never mutates state; callers decide whether a miss counts against the signer.
func (s *OtpService) IsValidCode(ctx context.Context, token, code string) (bool, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return false, err
	}
	signer, err := s.uow.Stores().Signers.GetSignerByID(ctx, sess.Mapping.SignerID)
	if err != nil {
		return false, err
	}
	if signer == nil {
		return false, types.SessionFailure(types.InvalidToken, "signer not found")
	}
	return codeMatches(signer.Authentication.OtpDetails, code, s.now()), nil
}

// VerifyCode checks code and, when it matches, marks the session authenticated. A miss is
// counted; reaching the attempt limit locks the code until a new one is issued.
func (s *OtpService) VerifyCode(ctx context.Context, token, code string) error {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}

	var outcome error
	err = s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		outcome = nil
		signer, err := tx.Signers.GetSignerByID(ctx, sess.Mapping.SignerID)
		if err != nil {
			return err
		}
		if signer == nil {
			return types.SessionFailure(types.InvalidToken, "signer not found")
		}

		otp := signer.Authentication.OtpDetails
		if otp.Attempts >= s.cfg.OtpMaxAttempts {
			return types.SessionFailure(types.OtpAttemptsExceeded, "code is locked, request a new one")
		}
		if !codeMatches(otp, code, s.now()) {
			attempts := otp.Attempts + 1
			if err := tx.Signers.UpdateOtpAttempts(ctx, signer.ID, attempts); err != nil {
				return err
			}
			// the counter must commit, so the miss is reported after the transaction
			if attempts >= s.cfg.OtpMaxAttempts {
				outcome = types.SessionFailure(types.OtpAttemptsExceeded, "code is locked, request a new one")
			} else {
				outcome = types.SessionFailure(types.InvalidOtpCode, "wrong or expired code")
			}
			return nil
		}

		signer.Authentication.OtpDetails.Code = ""
		signer.Authentication.OtpDetails.Expiration = nil
		signer.Authentication.OtpDetails.Attempts = 0
		if err := tx.Signers.UpdateGeneratedOtpDetails(ctx, signer); err != nil {
			return err
		}
		return s.grantTx(ctx, tx, sess.Mapping.CollectionID, sess.Mapping)
	})
	if err != nil {
		if types.CodeOf(err) == types.OtpAttemptsExceeded {
			metrics.OtpVerificationsTotal.WithLabelValues("locked").Inc()
		}
		return classify(err)
	}

	switch types.CodeOf(outcome) {
	case types.Success:
		metrics.OtpVerificationsTotal.WithLabelValues("valid").Inc()
	case types.OtpAttemptsExceeded:
		metrics.OtpVerificationsTotal.WithLabelValues("locked").Inc()
	default:
		metrics.OtpVerificationsTotal.WithLabelValues("invalid").Inc()
	}
	return outcome
}

func (s *OtpService) sendCode(ctx context.Context, signer *models.Signer) (string, error) {
	if !s.sends.Allow(signer.ID.String()) {
		return "", types.ValidationFailure(types.TooManyOtpRequests, "too many codes requested, wait a minute")
	}
	code, err := generateCode(s.cfg.OtpLength)
	if err != nil {
		return "", err
	}

	var means string
	err = s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		expires := s.now().Add(s.cfg.OtpTTL)
		signer.Authentication.OtpDetails.Code = code
		signer.Authentication.OtpDetails.Expiration = &expires
		signer.Authentication.OtpDetails.Attempts = 0
		if err := tx.Signers.UpdateGeneratedOtpDetails(ctx, signer); err != nil {
			return err
		}
		var err error
		means, err = s.notifier.SendOtpCode(ctx, signer, code)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("signer_id", signer.ID.String()).Msg("failed to issue code")
		return "", classify(err)
	}

	metrics.OtpCodesSentTotal.Inc()
	s.logger.Debug().Str("signer_id", signer.ID.String()).Str("means", means).Msg("code sent")
	return means, nil
}

func (s *OtpService) grant(ctx context.Context, c *models.DocumentCollection, mapping *models.SignerTokenMapping) error {
	err := s.uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		return s.grantTx(ctx, tx, c.ID, mapping)
	})
	return classify(err)
}

func (s *OtpService) grantTx(ctx context.Context, tx ports.Stores, collectionID uuid.UUID, mapping *models.SignerTokenMapping) error {
	m := *mapping
	m.AuthToken = uuid.NewString()
	if err := tx.Sessions.Update(ctx, &m); err != nil {
		return err
	}
	signerID := m.SignerID
	return tx.Audit.Log(ctx, &models.AuditLog{
		ActorID:      &signerID,
		Action:       repository.ActionSignerAuthenticated,
		CollectionID: collectionID,
		SignerID:     &signerID,
	})
}

func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// codeMatches compares in constant time and accepts a code up to and including its expiration.
func codeMatches(otp models.OtpDetails, code string, now time.Time) bool {
	if otp.Code == "" || code == "" || otp.Expiration == nil {
		return false
	}
	if now.After(*otp.Expiration) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) == 1
}

func generateCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
