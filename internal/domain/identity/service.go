// Package identity resolves authenticated callers to their clinic profiles.
package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ResolvePatient returns the Patient owned by a patient identity. Other roles
// need no resolution and get (nil, nil).
func (s *Service) ResolvePatient(ctx context.Context, id auth.Identity) (*Patient, error) {
	if id.Role != auth.RolePatient {
		return nil, nil
	}
	userID, err := uuid.Parse(id.SubjectID)
	if err != nil {
		return nil, apperr.NotFound("patient profile not found")
	}
	p, err := s.repo.GetPatientByUserID(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("patient profile not found")
		}
		return nil, err
	}
	return p, nil
}

// ResolvePatientID implements auth.PatientResolver.
func (s *Service) ResolvePatientID(ctx context.Context, id auth.Identity) (uuid.UUID, error) {
	p, err := s.ResolvePatient(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if p == nil {
		return uuid.Nil, nil
	}
	return p.ID, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatientByID(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, id)
}

// Profile returns the profile behind any identity. Admins have none and get
// (nil, nil).
func (s *Service) Profile(ctx context.Context, id auth.Identity) (interface{}, error) {
	if id.Role == auth.RoleAdmin {
		return nil, nil
	}
	userID, err := uuid.Parse(id.SubjectID)
	if err != nil {
		return nil, apperr.NotFound("%s profile not found", id.Role)
	}

	var (
		profile interface{}
		lookup  error
	)
	switch id.Role {
	case auth.RolePatient:
		profile, lookup = s.repo.GetPatientByUserID(ctx, userID)
	case auth.RoleDoctor:
		profile, lookup = s.repo.GetDoctorByUserID(ctx, userID)
	case auth.RoleSecretary:
		profile, lookup = s.repo.GetSecretaryByUserID(ctx, userID)
	default:
		return nil, apperr.Authorization("unknown role")
	}
	if lookup != nil {
		if apperr.KindOf(lookup) == apperr.KindNotFound {
			return nil, apperr.NotFound("%s profile not found", id.Role)
		}
		return nil, lookup
	}
	return profile, nil
}
