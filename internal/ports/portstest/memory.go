// Package portstest provides in-memory implementations of the ports for service, mode and
// handler tests. The Memory unit of work snapshots its state before a transaction body and
// restores it when the body fails, so rollback behavior can be asserted.
package portstest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/google/uuid"
)

// Memory is an in-memory data set behind every store port.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	collections map[uuid.UUID]*models.DocumentCollection
	mappings    map[uuid.UUID]*models.SignerTokenMapping
	audit       []models.AuditLog
	companies   map[uuid.UUID]*models.CompanyConfiguration

	// Commits and Rollbacks count finished Do calls.
	Commits   int
	Rollbacks int
}

func NewMemory() *Memory {
	return &Memory{
		collections: map[uuid.UUID]*models.DocumentCollection{},
		mappings:    map[uuid.UUID]*models.SignerTokenMapping{},
		companies:   map[uuid.UUID]*models.CompanyConfiguration{},
	}
}

// AddCollection stores a copy of c.
func (m *Memory) AddCollection(c *models.DocumentCollection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[c.ID] = CloneCollection(c)
}

// AddMapping stores a copy of mapping.
func (m *Memory) AddMapping(mapping *models.SignerTokenMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mapping
	m.mappings[mapping.Token] = &cp
}

// AddCompany stores a company configuration.
func (m *Memory) AddCompany(cfg *models.CompanyConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.companies[cfg.CompanyID] = &cp
}

// Collection returns a copy of the stored collection, or nil.
func (m *Memory) Collection(id uuid.UUID) *models.DocumentCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil
	}
	return CloneCollection(c)
}

// Mapping returns a copy of the stored mapping for signerID, or nil.
func (m *Memory) Mapping(signerID uuid.UUID) *models.SignerTokenMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mapping := range m.mappings {
		if mapping.SignerID == signerID {
			cp := *mapping
			return &cp
		}
	}
	return nil
}

// AuditActions returns the logged actions in order.
func (m *Memory) AuditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audit))
	for _, entry := range m.audit {
		actions = append(actions, entry.Action)
	}
	return actions
}

// Stores returns stores that act directly on the data set.
func (m *Memory) Stores() ports.Stores {
	return ports.Stores{
		Collections: memCollections{m},
		Signers:     memSigners{m},
		Sessions:    memSessions{m},
		Audit:       memAudit{m},
	}
}

// Do runs fn serialized with other transactions and restores the data set when fn fails.
func (m *Memory) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Stores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, m.Stores()); err != nil {
		m.restore(snap)
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// Update implements ports.CompanyConfigWriter.
func (m *Memory) Update(_ context.Context, cfg *models.CompanyConfiguration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[cfg.CompanyID]; !ok {
		return false, nil
	}
	cp := *cfg
	m.companies[cfg.CompanyID] = &cp
	return true, nil
}

// Get implements ports.CompanyConfigReader.
func (m *Memory) Get(_ context.Context, companyID uuid.UUID) (*models.CompanyConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.companies[companyID]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

type snapshot struct {
	collections map[uuid.UUID]*models.DocumentCollection
	mappings    map[uuid.UUID]*models.SignerTokenMapping
	audit       []models.AuditLog
}

func (m *Memory) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		collections: make(map[uuid.UUID]*models.DocumentCollection, len(m.collections)),
		mappings:    make(map[uuid.UUID]*models.SignerTokenMapping, len(m.mappings)),
		audit:       append([]models.AuditLog(nil), m.audit...),
	}
	for id, c := range m.collections {
		s.collections[id] = CloneCollection(c)
	}
	for token, mapping := range m.mappings {
		cp := *mapping
		s.mappings[token] = &cp
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = s.collections
	m.mappings = s.mappings
	m.audit = s.audit
}

// signer finds a stored signer. Callers hold mu.
func (m *Memory) signer(id uuid.UUID) *models.Signer {
	if c := m.collectionOf(id); c != nil {
		return c.Signer(id)
	}
	return nil
}

// collectionOf finds the stored collection of a signer. Callers hold mu.
func (m *Memory) collectionOf(signerID uuid.UUID) *models.DocumentCollection {
	for _, c := range m.collections {
		if c.Signer(signerID) != nil {
			return c
		}
	}
	return nil
}

type memCollections struct{ m *Memory }

func (s memCollections) Read(_ context.Context, id uuid.UUID) (*models.DocumentCollection, error) {
	return s.m.Collection(id), nil
}

func (s memCollections) ReadBySigner(_ context.Context, signerID uuid.UUID) (*models.DocumentCollection, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range s.m.collections {
		if c.Signer(signerID) != nil {
			return CloneCollection(c), nil
		}
	}
	return nil, nil
}

func (s memCollections) ReadForUpdate(ctx context.Context, id uuid.UUID) (*models.DocumentCollection, error) {
	return s.Read(ctx, id)
}

func (s memCollections) Update(_ context.Context, c *models.DocumentCollection) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.collections[c.ID]
	if !ok {
		return errors.New("collection not found")
	}
	stored.Status = c.Status
	stored.SignedTime = copyTime(c.SignedTime)
	return nil
}

func (s memCollections) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	_, ok := s.m.collections[id]
	return ok, nil
}

type memSigners struct{ m *Memory }

func (s memSigners) GetSignerByID(_ context.Context, id uuid.UUID) (*models.Signer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	signer := s.m.signer(id)
	if signer == nil {
		return nil, nil
	}
	return CloneSigner(signer), nil
}

func (s memSigners) UpdateGeneratedOtpDetails(_ context.Context, signer *models.Signer) error {
	return s.with(signer.ID, func(stored *models.Signer) {
		stored.Authentication.OtpDetails = signer.Authentication.OtpDetails
		stored.Authentication.OtpDetails.Expiration = copyTime(signer.Authentication.OtpDetails.Expiration)
	})
}

func (s memSigners) UpdateOtpAttempts(_ context.Context, signerID uuid.UUID, attempts int) error {
	return s.with(signerID, func(stored *models.Signer) {
		stored.Authentication.OtpDetails.Attempts = attempts
	})
}

func (s memSigners) UpdateSignerStatus(_ context.Context, signer *models.Signer) error {
	return s.with(signer.ID, func(stored *models.Signer) {
		stored.Status = signer.Status
		stored.IPAddress = signer.IPAddress
		stored.DeviceInformation = signer.DeviceInformation
		stored.FirstViewIP = signer.FirstViewIP
		stored.DeclineReason = signer.DeclineReason
		stored.TimeSent = copyTime(signer.TimeSent)
		stored.TimeLastSent = copyTime(signer.TimeLastSent)
		stored.TimeViewed = copyTime(signer.TimeViewed)
		stored.TimeSigned = copyTime(signer.TimeSigned)
		stored.TimeRejected = copyTime(signer.TimeRejected)
		stored.Authentication.OtpDetails = signer.Authentication.OtpDetails
		stored.Authentication.OtpDetails.Expiration = copyTime(signer.Authentication.OtpDetails.Expiration)
	})
}

// UpdateSignerFields mirrors the SQL upsert on (document_id, field_name): a field owned by
// another signer of the collection is left untouched.
func (s memSigners) UpdateSignerFields(_ context.Context, signerID uuid.UUID, fields []models.SignerField) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := s.m.collectionOf(signerID)
	if c == nil {
		return errors.New("signer not found")
	}
	stored := c.Signer(signerID)
	for _, f := range fields {
		if f.DocumentID == uuid.Nil {
			return errors.New("field has no document")
		}
		if owner := fieldOwner(c, f.DocumentID, f.FieldName); owner != nil {
			if owner.ID != signerID {
				continue
			}
			for i := range owner.Fields {
				if owner.Fields[i].DocumentID == f.DocumentID && owner.Fields[i].FieldName == f.FieldName {
					owner.Fields[i].FieldValue = f.FieldValue
				}
			}
			continue
		}
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		stored.Fields = append(stored.Fields, f)
	}
	return nil
}

func fieldOwner(c *models.DocumentCollection, documentID uuid.UUID, name string) *models.Signer {
	for i := range c.Signers {
		for _, f := range c.Signers[i].Fields {
			if f.DocumentID == documentID && f.FieldName == name {
				return &c.Signers[i]
			}
		}
	}
	return nil
}

func (s memSigners) AddAttachments(_ context.Context, signerID uuid.UUID, attachments []models.SignerAttachment) error {
	return s.with(signerID, func(stored *models.Signer) {
		stored.Attachments = append(stored.Attachments, attachments...)
	})
}

func (s memSigners) with(id uuid.UUID, fn func(*models.Signer)) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored := s.m.signer(id)
	if stored == nil {
		return errors.New("signer not found")
	}
	fn(stored)
	return nil
}

type memSessions struct{ m *Memory }

func (s memSessions) Read(_ context.Context, token uuid.UUID) (*models.SignerTokenMapping, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	mapping, ok := s.m.mappings[token]
	if !ok {
		return nil, nil
	}
	cp := *mapping
	return &cp, nil
}

func (s memSessions) ReadBySigner(_ context.Context, signerID uuid.UUID) (*models.SignerTokenMapping, error) {
	return s.m.Mapping(signerID), nil
}

func (s memSessions) Create(_ context.Context, mapping *models.SignerTokenMapping) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for token, existing := range s.m.mappings {
		if existing.SignerID == mapping.SignerID {
			delete(s.m.mappings, token)
		}
	}
	cp := *mapping
	s.m.mappings[mapping.Token] = &cp
	return nil
}

func (s memSessions) Update(_ context.Context, mapping *models.SignerTokenMapping) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.mappings[mapping.Token]; !ok {
		return errors.New("mapping not found")
	}
	cp := *mapping
	s.m.mappings[mapping.Token] = &cp
	return nil
}

func (s memSessions) Delete(_ context.Context, token uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.mappings, token)
	return nil
}

func (s memSessions) DeleteByCollection(_ context.Context, collectionID uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for token, mapping := range s.m.mappings {
		if mapping.CollectionID == collectionID {
			delete(s.m.mappings, token)
		}
	}
	return nil
}

type memAudit struct{ m *Memory }

func (s memAudit) Log(_ context.Context, entry *models.AuditLog) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	entry.ID = int64(len(s.m.audit) + 1)
	entry.CreatedAt = time.Now().UTC()
	s.m.audit = append(s.m.audit, *entry)
	return nil
}

func (s memAudit) ListByCollection(_ context.Context, collectionID uuid.UUID, limit int) ([]models.AuditLog, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []models.AuditLog
	for _, entry := range s.m.audit {
		if entry.CollectionID != collectionID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, entry)
	}
	return out, nil
}

// CloneCollection returns a deep copy of c.
func CloneCollection(c *models.DocumentCollection) *models.DocumentCollection {
	cp := *c
	cp.SignedTime = copyTime(c.SignedTime)
	if c.DistributionID != nil {
		id := *c.DistributionID
		cp.DistributionID = &id
	}
	cp.Documents = make([]models.Document, len(c.Documents))
	for i, d := range c.Documents {
		d.Fields = append([]models.PDFField(nil), d.Fields...)
		cp.Documents[i] = d
	}
	cp.Signers = make([]models.Signer, len(c.Signers))
	for i := range c.Signers {
		cp.Signers[i] = *CloneSigner(&c.Signers[i])
	}
	return &cp
}

// CloneSigner returns a deep copy of s.
func CloneSigner(s *models.Signer) *models.Signer {
	cp := *s
	cp.Fields = append([]models.SignerField(nil), s.Fields...)
	cp.Attachments = append([]models.SignerAttachment(nil), s.Attachments...)
	cp.Authentication.OtpDetails.Expiration = copyTime(s.Authentication.OtpDetails.Expiration)
	cp.TimeSent = copyTime(s.TimeSent)
	cp.TimeLastSent = copyTime(s.TimeLastSent)
	cp.TimeViewed = copyTime(s.TimeViewed)
	cp.TimeSigned = copyTime(s.TimeSigned)
	cp.TimeRejected = copyTime(s.TimeRejected)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
