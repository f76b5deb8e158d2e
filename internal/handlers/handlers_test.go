package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avissapr/signflow/internal/auth"
	"github.com/avissapr/signflow/internal/cache"
	"github.com/avissapr/signflow/internal/handlers"
	"github.com/avissapr/signflow/internal/middleware"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/ports/portstest"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/services"
	"github.com/avissapr/signflow/internal/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type users map[string]*models.User

func (u users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if user, ok := u[email]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

type server struct {
	app     *fiber.App
	mem     *portstest.Memory
	tokens  *auth.Service
	owner   *models.User
	healthy bool
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{mem: portstest.NewMemory(), healthy: true}

	hash, err := bcrypt.GenerateFromPassword([]byte("owner-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	s.owner = &models.User{ID: uuid.New(), CompanyID: uuid.New(), Email: "owner@example.com", Role: "user", PasswordHash: string(hash)}

	s.tokens, err = auth.New("a-test-secret-that-is-long-enough-123", time.Hour, time.Hour, s.mem.Stores().Signers)
	require.NoError(t, err)

	cfg := security.DefaultSecurityConfig()
	notifier := &portstest.Notifier{Means: "o***@example.com"}
	pdf := portstest.NewPdf()
	storage := portstest.NewStorage()
	factory := modes.NewFactory(modes.Deps{
		Notifier:        notifier,
		Pdf:             pdf,
		Files:           storage,
		Companies:       s.mem,
		Issuer:          portstest.Issuer{},
		LinkBaseURL:     "https://sign.test/s",
		DownloadLinkTTL: time.Hour,
		Logger:          zerolog.Nop(),
	})
	sessions := services.NewSessionService(s.mem.Stores().Sessions, portstest.Decoder{})
	otp := services.NewOtpService(s.mem, sessions, notifier, cfg, zerolog.Nop())
	t.Cleanup(otp.Close)
	update := services.NewUpdateService(services.UpdateDeps{
		UnitOfWork: s.mem,
		Sessions:   sessions,
		Pdf:        pdf,
		Scanner:    &portstest.Scanner{},
		Notifier:   notifier,
		Modes:      factory,
		Security:   cfg,
		Logger:     zerolog.Nop(),
	})
	signing := services.NewSigningService(services.SigningDeps{
		UnitOfWork:      s.mem,
		Sessions:        sessions,
		Modes:           factory,
		Pdf:             pdf,
		Forms:           pdf,
		Files:           storage,
		Companies:       s.mem,
		DownloadLinkTTL: time.Hour,
		Logger:          zerolog.Nop(),
	})
	s.mem.AddCompany(&models.CompanyConfiguration{CompanyID: s.owner.CompanyID, ShouldSendSignedDocument: true, DownloadLinkTTL: time.Hour})
	configs := cache.NewCompanyConfig(s.mem, time.Hour, models.CompanyConfiguration{DownloadLinkTTL: time.Hour})

	limiter := func() *security.RateLimiter {
		l := security.NewRateLimiter(1000, time.Millisecond)
		t.Cleanup(l.Stop)
		return l
	}
	lockout := security.NewAccountLockout(2, time.Hour)

	s.app = fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(zerolog.Nop())})
	handlers.Register(s.app, handlers.Routes{
		Auth:          handlers.NewAuthHandler(services.NewAuthService(users{s.owner.Email: s.owner}, s.tokens, bcrypt.MinCost), lockout, zerolog.Nop()),
		Signer:        handlers.NewSignerHandler(signing, otp, update),
		Collections:   handlers.NewCollectionHandler(signing),
		Company:       handlers.NewCompanyHandler(services.NewCompanyService(configs, s.mem, configs, zerolog.Nop())),
		Tokens:        s.tokens,
		Security:      middleware.NewSecurityMiddleware(zerolog.Nop()),
		LoginLimiter:  limiter(),
		SignerLimiter: limiter(),
		OwnerLimiter:  limiter(),
		Health:        func(context.Context) bool { return s.healthy },
	})

	// one document with a name and a signature field
	pdf.AddForm(docID, models.PDFField{Name: "name", Type: models.FieldText, Mandatory: true},
		models.PDFField{Name: "sig", Type: models.FieldSignature, Mandatory: true})
	return s
}

var docID = uuid.MustParse("33333333-3333-4333-8333-333333333333")

// seed stores a one-signer collection of the server's owner and returns it with a live link token.
func (s *server) seed(status models.DocumentStatus) (*models.DocumentCollection, string) {
	c := &models.DocumentCollection{
		ID:          uuid.New(),
		Name:        "Lease",
		Status:      status,
		Mode:        models.ParallelGroupSign,
		UserID:      s.owner.ID,
		CompanyID:   s.owner.CompanyID,
		OwnerEmail:  s.owner.Email,
		RedirectURL: "https://app.test/done/[docId]",
		Documents:   []models.Document{{ID: docID, Name: "lease.pdf"}},
		Signers: []models.Signer{{
			ID:      uuid.New(),
			Status:  models.SignerSent,
			Contact: models.Contact{ID: uuid.New(), Name: "Dana Levi", Email: "dana@example.com"},
			Fields: []models.SignerField{
				{ID: uuid.New(), DocumentID: docID, FieldName: "name", FieldType: models.FieldText, Mandatory: true},
				{ID: uuid.New(), DocumentID: docID, FieldName: "sig", FieldType: models.FieldSignature, Mandatory: true},
			},
			Authentication: models.SignerAuthentication{OtpDetails: models.OtpDetails{Mode: models.OtpNone}},
		}},
	}
	c.Documents[0].CollectionID = c.ID
	c.Signers[0].CollectionID = c.ID
	s.mem.AddCollection(c)

	signerID := c.Signers[0].ID
	token := uuid.New()
	s.mem.AddMapping(&models.SignerTokenMapping{
		Token:        token,
		SignerID:     signerID,
		CollectionID: c.ID,
		JWT:          fmt.Sprintf("jwt:%s:%s", signerID, c.ID),
	})
	return c, token.String()
}

func (s *server) bearer(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := s.tokens.IssueOwnerToken(u)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *server) do(t *testing.T, method, path, authorization, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func closeBody(signerID uuid.UUID, name string) string {
	return fmt.Sprintf(`{"operation":"close","collection":{"signers":[{"id":%q,"fields":[
		{"fieldName":"name","fieldValue":%q},
		{"fieldName":"sig","fieldValue":"data:image/png;base64,iVBORw0KGgo="}]}]}}`, signerID, name)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ResultCode
	}{
		{name: "session", err: types.SessionFailure(types.InvalidToken, "x"), expectedStatus: http.StatusUnauthorized, expectedCode: types.InvalidToken},
		{name: "validation", err: types.ValidationFailure(types.NotAllMandatoryFieldsFilledIn, "x"), expectedStatus: http.StatusUnprocessableEntity, expectedCode: types.NotAllMandatoryFieldsFilledIn},
		{name: "not owner", err: types.ValidationFailure(types.DocumentCollectionNotOwnedByUser, "x"), expectedStatus: http.StatusForbidden, expectedCode: types.DocumentCollectionNotOwnedByUser},
		{name: "unknown collection", err: types.ValidationFailure(types.InvalidDocumentCollectionId, "x"), expectedStatus: http.StatusNotFound, expectedCode: types.InvalidDocumentCollectionId},
		{name: "otp throttled", err: types.ValidationFailure(types.TooManyOtpRequests, "x"), expectedStatus: http.StatusTooManyRequests, expectedCode: types.TooManyOtpRequests},
		{name: "integrity", err: types.IntegrityFailure(types.InvalidStatusTransition, "x"), expectedStatus: http.StatusConflict, expectedCode: types.InvalidStatusTransition},
		{name: "transient", err: types.TransientError(errors.New("deadlock")), expectedStatus: http.StatusServiceUnavailable, expectedCode: types.TransientFailure},
		{name: "wrapped failure", err: fmt.Errorf("commit: %w", types.SessionFailure(types.AuthenticationRequired, "x")), expectedStatus: http.StatusUnauthorized, expectedCode: types.AuthenticationRequired},
		{name: "fiber error", err: fiber.NewError(http.StatusBadRequest, "bad"), expectedStatus: http.StatusBadRequest},
		{name: "delivery", err: fmt.Errorf("%w: smtp down", modes.ErrDelivery), expectedStatus: http.StatusBadGateway},
		{name: "not an admin", err: services.ErrNotAdmin, expectedStatus: http.StatusForbidden},
		{name: "unexpected", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := handlers.StatusOf(tt.err)

			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedCode, code)
		})
	}
}

func TestSigner_ViewThenSign(t *testing.T) {
	s := newServer(t)
	c, token := s.seed(models.DocumentSent)

	status, body := s.do(t, "GET", "/api/v1/sign/"+token, "", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, string(models.DocumentViewed), data["status"])
	assert.Equal(t, false, data["authenticationRequired"])

	status, body = s.do(t, "PUT", "/api/v1/sign/"+token, "", closeBody(c.Signers[0].ID, "Dana Levi"))
	require.Equal(t, http.StatusOK, status, body)
	data = body["data"].(map[string]interface{})
	assert.Contains(t, data["downloadLink"], "signed.json")
	assert.Equal(t, "https://app.test/done/"+c.ID.String(), data["redirectLink"])
	assert.Equal(t, models.DocumentSigned, s.mem.Collection(c.ID).Status)
}

func TestSigner_Failures(t *testing.T) {
	s := newServer(t)
	c, token := s.seed(models.DocumentSent)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{name: "unknown token", method: "GET", path: "/api/v1/sign/" + uuid.NewString(), expectedStatus: http.StatusUnauthorized, expectedCode: "101"},
		{name: "malformed token", method: "GET", path: "/api/v1/sign/not-a-token", expectedStatus: http.StatusUnauthorized, expectedCode: "101"},
		{name: "missing mandatory field", method: "PUT", path: "/api/v1/sign/" + token, body: closeBody(c.Signers[0].ID, ""), expectedStatus: http.StatusUnprocessableEntity, expectedCode: "204"},
		{name: "unknown operation", method: "PUT", path: "/api/v1/sign/" + token, body: `{"operation":"archive"}`, expectedStatus: http.StatusUnprocessableEntity, expectedCode: "306"},
		{name: "malformed body", method: "PUT", path: "/api/v1/sign/" + token, body: `{"operation":`, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, tt.method, tt.path, "", tt.body)

			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["timestamp"])
			assert.Equal(t, tt.path, body["url"])
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, body["code"])
			}
		})
	}
}

func TestSigner_Decline(t *testing.T) {
	s := newServer(t)
	c, token := s.seed(models.DocumentSent)

	status, body := s.do(t, "PUT", "/api/v1/sign/"+token, "", `{"operation":"decline","declineReason":"wrong address"}`)

	require.Equal(t, http.StatusOK, status, body)
	stored := s.mem.Collection(c.ID)
	assert.Equal(t, models.DocumentDeclined, stored.Status)
	assert.Equal(t, "wrong address", stored.Signers[0].DeclineReason)
	assert.NotNil(t, stored.Signers[0].TimeRejected)
	assert.Equal(t, "https://app.test/done/"+c.ID.String(), body["data"].(map[string]interface{})["redirectLink"])
}

func TestSigner_Password_NoAuthentication(t *testing.T) {
	s := newServer(t)
	_, token := s.seed(models.DocumentSent)

	status, body := s.do(t, "POST", "/api/v1/sign/"+token+"/password", "", `{"password":"whatever"}`)

	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "", body["data"].(map[string]interface{})["sentTo"])
}

func TestCollections_RequireBearer(t *testing.T) {
	s := newServer(t)
	c, _ := s.seed(models.DocumentCreated)

	status, body := s.do(t, "POST", "/api/v1/collections/"+c.ID.String()+"/send", "", "")

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["ok"])
}

func TestCollections_Send(t *testing.T) {
	s := newServer(t)
	c, _ := s.seed(models.DocumentCreated)

	status, body := s.do(t, "POST", "/api/v1/collections/"+c.ID.String()+"/send", s.bearer(t, s.owner), "")

	require.Equal(t, http.StatusOK, status, body)
	links := body["data"].(map[string]interface{})["links"].(map[string]interface{})
	assert.Contains(t, links, c.Signers[0].ID.String())
	assert.Equal(t, models.DocumentSent, s.mem.Collection(c.ID).Status)

	status, body = s.do(t, "POST", "/api/v1/collections/"+c.ID.String()+"/send", s.bearer(t, s.owner), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "304", body["code"])
}

func TestCollections_Ownership(t *testing.T) {
	s := newServer(t)
	c, _ := s.seed(models.DocumentSent)
	stranger := &models.User{ID: uuid.New(), CompanyID: s.owner.CompanyID, Role: "user"}
	admin := &models.User{ID: uuid.New(), CompanyID: s.owner.CompanyID, Role: "admin"}
	path := "/api/v1/collections/" + c.ID.String() + "/download"

	status, body := s.do(t, "GET", path, s.bearer(t, stranger), "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "307", body["code"])

	status, body = s.do(t, "GET", path, s.bearer(t, admin), "")
	assert.Equal(t, http.StatusUnprocessableEntity, status, "an admin of the company passes ownership")
	assert.Equal(t, "301", body["code"])

	status, body = s.do(t, "GET", "/api/v1/collections/"+uuid.NewString()+"/download", s.bearer(t, s.owner), "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "102", body["code"])

	status, _ = s.do(t, "GET", "/api/v1/collections/nope/download", s.bearer(t, s.owner), "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCollections_CancelAndDelete(t *testing.T) {
	s := newServer(t)
	c, token := s.seed(models.DocumentSent)
	owner := s.bearer(t, s.owner)

	status, _ := s.do(t, "POST", "/api/v1/collections/"+c.ID.String()+"/cancel", owner, "")
	require.Equal(t, http.StatusNoContent, status)

	status, body := s.do(t, "GET", "/api/v1/sign/"+token, "", "")
	assert.Equal(t, http.StatusUnauthorized, status, "links stop working once canceled")
	assert.Equal(t, "101", body["code"])

	status, _ = s.do(t, "DELETE", "/api/v1/collections/"+c.ID.String(), owner, "")
	require.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, models.DocumentDeleted, s.mem.Collection(c.ID).Status)
}

func TestLogin(t *testing.T) {
	s := newServer(t)

	status, body := s.do(t, "POST", "/api/v1/auth/login", "", `{"email":" Owner@Example.com ","password":"owner-pass"}`)
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]interface{})
	user := data["user"].(map[string]interface{})
	assert.Equal(t, s.owner.ID.String(), user["id"])
	assert.NotContains(t, user, "PasswordHash")

	claims, err := s.tokens.ParseOwnerToken(data["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, s.owner.ID, claims.UserID)
}

func TestLogin_Lockout(t *testing.T) {
	s := newServer(t)
	wrong := `{"email":"owner@example.com","password":"guess"}`

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, "POST", "/api/v1/auth/login", "", wrong)
		assert.Equal(t, http.StatusUnauthorized, status)
	}

	status, _ := s.do(t, "POST", "/api/v1/auth/login", "", `{"email":"owner@example.com","password":"owner-pass"}`)
	assert.Equal(t, http.StatusTooManyRequests, status, "the right password does not unlock a locked account")

	status, _ = s.do(t, "POST", "/api/v1/auth/login", "", `{"email":"owner@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthz(t *testing.T) {
	s := newServer(t)

	status, _ := s.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)

	s.healthy = false
	status, body := s.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "down", body["database"])
}

func TestCollections_DefineFormAndAudit(t *testing.T) {
	s := newServer(t)
	c, _ := s.seed(models.DocumentCreated)
	owner := s.bearer(t, s.owner)
	formPath := "/api/v1/collections/" + c.ID.String() + "/documents/" + docID.String() + "/form"

	status, body := s.do(t, "PUT", formPath, owner, `{"fields":[{"name":"tenant","type":"text","mandatory":true}]}`)
	require.Equal(t, http.StatusNoContent, status, body)

	status, body = s.do(t, "PUT", formPath, owner, `{"fields":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "202", body["code"])

	status, body = s.do(t, "PUT", "/api/v1/collections/"+c.ID.String()+"/documents/nope/form", owner, `{"fields":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "201", body["code"])

	status, body = s.do(t, "GET", "/api/v1/collections/"+c.ID.String()+"/audit", owner, "")
	require.Equal(t, http.StatusOK, status, body)
	entries := body["data"].(map[string]interface{})["entries"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, repository.ActionDocumentFormDefined, entry["action"])
	assert.Equal(t, s.owner.ID.String(), entry["actorId"])

	stranger := &models.User{ID: uuid.New(), CompanyID: s.owner.CompanyID, Role: "user"}
	status, body = s.do(t, "GET", "/api/v1/collections/"+c.ID.String()+"/audit", s.bearer(t, stranger), "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "307", body["code"])
}

func TestCompany_Config(t *testing.T) {
	s := newServer(t)
	admin := &models.User{ID: uuid.New(), CompanyID: s.owner.CompanyID, Role: "admin"}
	update := `{"sendSignedDocument":false,"downloadLinkTtlSeconds":600}`

	status, body := s.do(t, "GET", "/api/v1/company/config", s.bearer(t, s.owner), "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["data"].(map[string]interface{})["sendSignedDocument"])

	status, _ = s.do(t, "PUT", "/api/v1/company/config", s.bearer(t, s.owner), update)
	assert.Equal(t, http.StatusForbidden, status, "only admins change the configuration")

	status, body = s.do(t, "PUT", "/api/v1/company/config", s.bearer(t, admin), update)
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(t, "GET", "/api/v1/company/config", s.bearer(t, s.owner), "")
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["sendSignedDocument"], "the cached value is dropped on update")
	assert.Equal(t, float64(600), data["downloadLinkTtlSeconds"])

	status, body = s.do(t, "PUT", "/api/v1/company/config", s.bearer(t, admin), `{"downloadLinkTtlSeconds":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "308", body["code"])
}
