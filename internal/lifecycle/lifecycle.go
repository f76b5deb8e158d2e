// Package lifecycle is the authoritative state model of document collections and their signers.
// Every transition is checked against a table and stamps its timestamp at transition time.
package lifecycle

import (
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/types"
)

var collectionTransitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.DocumentCreated: {
		models.DocumentSent, models.DocumentSendingFailed, models.DocumentCanceled, models.DocumentDeleted,
		// self-sign collections are completed by their owner without being sent
		models.DocumentSigned,
	},
	models.DocumentSent: {
		models.DocumentViewed, models.DocumentSigned, models.DocumentExtraServerSigned,
		models.DocumentDeclined, models.DocumentSendingFailed, models.DocumentCanceled, models.DocumentDeleted,
	},
	models.DocumentViewed: {
		models.DocumentSigned, models.DocumentExtraServerSigned, models.DocumentDeclined,
		models.DocumentSendingFailed, models.DocumentCanceled, models.DocumentDeleted,
	},
	models.DocumentSigned:            {models.DocumentExtraServerSigned, models.DocumentDeleted},
	models.DocumentExtraServerSigned: {models.DocumentDeleted},
	models.DocumentDeclined:          {models.DocumentSent, models.DocumentDeleted},
	models.DocumentSendingFailed:     {models.DocumentSent, models.DocumentCanceled, models.DocumentDeleted},
	models.DocumentCanceled:          {models.DocumentDeleted},
	models.DocumentDeleted:           {},
}

var signerTransitions = map[models.SignerStatus][]models.SignerStatus{
	models.SignerCreated:  {models.SignerSent, models.SignerViewed, models.SignerSigned, models.SignerRejected},
	models.SignerSent:     {models.SignerSent, models.SignerViewed, models.SignerSigned, models.SignerRejected},
	models.SignerViewed:   {models.SignerSigned, models.SignerRejected},
	models.SignerSigned:   {},
	models.SignerRejected: {models.SignerSent},
}

// CanTransitionCollection reports whether a collection may move from one status to another.
func CanTransitionCollection(from, to models.DocumentStatus) bool {
	for _, s := range collectionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionSigner reports whether a signer may move from one status to another.
func CanTransitionSigner(from, to models.SignerStatus) bool {
	for _, s := range signerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether signers may still act on a collection in this status.
func IsActive(status models.DocumentStatus) bool {
	switch status {
	case models.DocumentCreated, models.DocumentSent, models.DocumentViewed:
		return true
	}
	return false
}

// IsCompleted reports whether a collection in this status has a downloadable signed result.
func IsCompleted(status models.DocumentStatus) bool {
	return status == models.DocumentSigned || status == models.DocumentExtraServerSigned
}

// TransitionCollection moves c to status to, stamping SignedTime when it becomes signed.
// Moving to the current status is a no-op.
func TransitionCollection(c *models.DocumentCollection, to models.DocumentStatus, now time.Time) error {
	if c.Status == to {
		return nil
	}
	if !CanTransitionCollection(c.Status, to) {
		return types.IntegrityFailure(types.InvalidStatusTransition,
			"collection %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	c.Status = to
	if IsCompleted(to) && c.SignedTime == nil {
		c.SignedTime = timePtr(now)
	}
	return nil
}

// TransitionSigner moves s to status to and stamps the matching timestamp.
func TransitionSigner(s *models.Signer, to models.SignerStatus, now time.Time) error {
	if s.Status == to && to != models.SignerSent {
		return nil
	}
	if !CanTransitionSigner(s.Status, to) {
		if s.Status == models.SignerSigned {
			return types.ValidationFailure(types.DocumentAlreadySignedBySigner,
				"signer %s already signed", s.ID)
		}
		return types.IntegrityFailure(types.InvalidStatusTransition,
			"signer %s cannot move from %s to %s", s.ID, s.Status, to)
	}
	s.Status = to
	switch to {
	case models.SignerSent:
		if s.TimeSent == nil {
			s.TimeSent = timePtr(now)
		}
		s.TimeLastSent = timePtr(now)
	case models.SignerViewed:
		s.TimeViewed = timePtr(now)
	case models.SignerSigned:
		s.TimeSigned = timePtr(now)
	case models.SignerRejected:
		s.TimeRejected = timePtr(now)
	}
	return nil
}

// Aggregate derives the collection status from its signers.
// The collection is Signed only when every signer signed; a single rejection declines it.
func Aggregate(c *models.DocumentCollection) models.DocumentStatus {
	if len(c.Signers) == 0 {
		return c.Status
	}
	signed, viewed, sent := 0, 0, 0
	for _, s := range c.Signers {
		switch s.Status {
		case models.SignerRejected:
			return models.DocumentDeclined
		case models.SignerSigned:
			signed++
		case models.SignerViewed:
			viewed++
		case models.SignerSent:
			sent++
		}
	}
	switch {
	case signed == len(c.Signers):
		return models.DocumentSigned
	case viewed > 0 || signed > 0:
		return models.DocumentViewed
	case sent > 0:
		return models.DocumentSent
	}
	return c.Status
}

// Advance moves the collection to the aggregated status of its signers when that is a legal move.
// Completed statuses are left to the mode strategies, which finalize explicitly.
func Advance(c *models.DocumentCollection, now time.Time) error {
	next := Aggregate(c)
	if next == c.Status || IsCompleted(next) {
		return nil
	}
	if !CanTransitionCollection(c.Status, next) {
		return nil
	}
	return TransitionCollection(c, next, now)
}

// Reactivate moves a declined collection back to Sent. Every rejected signer returns to Sent
// with its rejection timestamp and OTP attempt counter cleared. It returns the reactivated signers.
func Reactivate(c *models.DocumentCollection, now time.Time) ([]*models.Signer, error) {
	if c.Status != models.DocumentDeclined {
		return nil, types.IntegrityFailure(types.InvalidStatusTransition,
			"collection %s is %s, only declined collections can be reactivated", c.ID, c.Status)
	}
	if err := TransitionCollection(c, models.DocumentSent, now); err != nil {
		return nil, err
	}
	var reactivated []*models.Signer
	for i := range c.Signers {
		s := &c.Signers[i]
		if s.Status != models.SignerRejected {
			continue
		}
		if err := TransitionSigner(s, models.SignerSent, now); err != nil {
			return nil, err
		}
		s.TimeRejected = nil
		s.DeclineReason = ""
		s.Authentication.OtpDetails.Attempts = 0
		s.Authentication.OtpDetails.Code = ""
		s.Authentication.OtpDetails.Expiration = nil
		reactivated = append(reactivated, s)
	}
	return reactivated, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
