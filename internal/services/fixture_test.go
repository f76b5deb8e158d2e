package services_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/ports/portstest"
	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var today = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// env wires every service against in-memory ports.
type env struct {
	mem      *portstest.Memory
	notifier *portstest.Notifier
	pdf      *portstest.Pdf
	scanner  *portstest.Scanner
	cfg      *security.SecurityConfig
	now      time.Time

	sessions *services.SessionService
	otp      *services.OtpService
	update   *services.UpdateService
	signing  *services.SigningService
}

func newEnv(t *testing.T, tune ...func(*security.SecurityConfig)) *env {
	t.Helper()
	e := &env{
		mem:      portstest.NewMemory(),
		notifier: &portstest.Notifier{Means: "d***@example.com"},
		pdf:      portstest.NewPdf(),
		scanner:  &portstest.Scanner{Infected: map[string]bool{}},
		cfg:      security.DefaultSecurityConfig(),
		now:      today,
	}
	for _, fn := range tune {
		fn(e.cfg)
	}
	clock := func() time.Time { return e.now }
	storage := portstest.NewStorage()

	factory := modes.NewFactory(modes.Deps{
		Notifier:        e.notifier,
		Pdf:             e.pdf,
		Files:           storage,
		Companies:       e.mem,
		Issuer:          portstest.Issuer{},
		LinkBaseURL:     "https://sign.test/s",
		DownloadLinkTTL: 15 * time.Minute,
		Logger:          zerolog.Nop(),
		Now:             clock,
	})
	e.sessions = services.NewSessionService(e.mem.Stores().Sessions, portstest.Decoder{})
	e.otp = services.NewOtpService(e.mem, e.sessions, e.notifier, e.cfg, zerolog.Nop()).WithClock(clock)
	t.Cleanup(e.otp.Close)
	e.update = services.NewUpdateService(services.UpdateDeps{
		UnitOfWork: e.mem,
		Sessions:   e.sessions,
		Pdf:        e.pdf,
		Scanner:    e.scanner,
		Notifier:   e.notifier,
		Modes:      factory,
		Security:   e.cfg,
		Logger:     zerolog.Nop(),
		Now:        clock,
	})
	e.signing = services.NewSigningService(services.SigningDeps{
		UnitOfWork:      e.mem,
		Sessions:        e.sessions,
		Modes:           factory,
		Pdf:             e.pdf,
		Forms:           e.pdf,
		Files:           storage,
		Companies:       e.mem,
		DownloadLinkTTL: 15 * time.Minute,
		Logger:          zerolog.Nop(),
		Now:             clock,
	})
	return e
}

// seed stores a Sent collection with one document. Signer i owns the mandatory fields
// name_i (text) and sig_i (signature); in ordered mode only the first signer was sent a link.
func (e *env) seed(mode models.SignMode, signers int) *models.DocumentCollection {
	docID := uuid.New()
	c := &models.DocumentCollection{
		ID:          uuid.New(),
		Name:        "Lease",
		Status:      models.DocumentSent,
		Mode:        mode,
		UserID:      uuid.New(),
		CompanyID:   uuid.New(),
		OwnerEmail:  "owner@example.com",
		RedirectURL: "https://app.test/done/[docId]",
		Documents:   []models.Document{{ID: docID, Name: "lease.pdf"}},
	}
	c.Documents[0].CollectionID = c.ID

	var form []models.PDFField
	sent := today.Add(-time.Hour)
	for i := 0; i < signers; i++ {
		name, sig := fmt.Sprintf("name_%d", i), fmt.Sprintf("sig_%d", i)
		form = append(form,
			models.PDFField{Name: name, Type: models.FieldText, Mandatory: true},
			models.PDFField{Name: sig, Type: models.FieldSignature, Mandatory: true},
		)
		s := models.Signer{
			ID:            uuid.New(),
			CollectionID:  c.ID,
			Order:         i,
			Status:        models.SignerSent,
			SendingMethod: models.SendByEmail,
			Contact:       models.Contact{ID: uuid.New(), Name: fmt.Sprintf("Signer %d", i), Email: fmt.Sprintf("signer%d@example.com", i)},
			Fields: []models.SignerField{
				{ID: uuid.New(), DocumentID: docID, FieldName: name, FieldType: models.FieldText, Mandatory: true},
				{ID: uuid.New(), DocumentID: docID, FieldName: sig, FieldType: models.FieldSignature, Mandatory: true},
			},
			Authentication: models.SignerAuthentication{OtpDetails: models.OtpDetails{Mode: models.OtpNone}},
			TimeSent:       &sent,
			TimeLastSent:   &sent,
		}
		if mode == models.OrderedGroupSign && i > 0 {
			s.Status = models.SignerCreated
			s.TimeSent, s.TimeLastSent = nil, nil
		}
		c.Signers = append(c.Signers, s)
	}
	e.pdf.AddForm(docID, form...)
	e.mem.AddCollection(c)
	return c
}

// link creates a session mapping for signer and returns its token.
func (e *env) link(c *models.DocumentCollection, signerID uuid.UUID) string {
	m := &models.SignerTokenMapping{
		Token:        uuid.New(),
		SignerID:     signerID,
		CollectionID: c.ID,
		JWT:          fmt.Sprintf("jwt:%s:%s", signerID, c.ID),
		CreatedAt:    today,
	}
	e.mem.AddMapping(m)
	return m.Token.String()
}

// tokenOf returns the live token of signer, or "".
func (e *env) tokenOf(signerID uuid.UUID) string {
	m := e.mem.Mapping(signerID)
	if m == nil {
		return ""
	}
	return m.Token.String()
}

// closeInput fills in every field of signer i.
func closeInput(signer models.Signer, i int) services.UpdateInput {
	return services.UpdateInput{
		Collection: &models.DocumentCollection{Signers: []models.Signer{{
			ID: signer.ID,
			Fields: []models.SignerField{
				{FieldName: fmt.Sprintf("name_%d", i), FieldValue: "Dana Levi"},
				{FieldName: fmt.Sprintf("sig_%d", i), FieldValue: "data:image/png;base64,iVBORw0KGgo="},
			},
		}}},
		IPAddress:         "203.0.113.7",
		DeviceInformation: "Firefox",
	}
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(h)
}
