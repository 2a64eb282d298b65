package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrNotFound is returned for unknown service or resource ids.
var ErrNotFound = errors.New("catalog: not found")

// Source resolves catalog entries by id. Clients only ever send ids; every
// duration, add-on and kind comes from here.
type Source interface {
	Service(ctx context.Context, id string) (Service, error)
	Resource(ctx context.Context, id string) (Resource, error)
	// Indication returns the patient's recorded clinical indication for the
	// service, or "" when none is on file.
	Indication(ctx context.Context, patientID, serviceID string) (string, error)
}

// StaticSource serves a fixed catalog. It backs local development and tests.
type StaticSource struct {
	mu          sync.RWMutex
	services    map[string]Service
	resources   map[string]Resource
	indications map[string]string
}

// NewStaticSource creates an empty static catalog.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		services:    make(map[string]Service),
		resources:   make(map[string]Resource),
		indications: make(map[string]string),
	}
}

func indicationKey(patientID, serviceID string) string {
	return patientID + "|" + serviceID
}

// PutService adds or replaces services.
func (s *StaticSource) PutService(svcs ...Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range svcs {
		svc.AddOns = append([]AddOn(nil), svc.AddOns...)
		s.services[svc.ID] = svc
	}
}

// PutResource adds or replaces resources.
func (s *StaticSource) PutResource(res ...Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range res {
		s.resources[r.ID] = r
	}
}

// PutIndication records a patient's clinical indication for a service.
func (s *StaticSource) PutIndication(patientID, serviceID, indication string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indications[indicationKey(patientID, serviceID)] = indication
}

// Service implements Source.
func (s *StaticSource) Service(_ context.Context, id string) (Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[strings.TrimSpace(id)]
	if !ok {
		return Service{}, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	svc.AddOns = append([]AddOn(nil), svc.AddOns...)
	return svc, nil
}

// Resource implements Source.
func (s *StaticSource) Resource(_ context.Context, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[strings.TrimSpace(id)]
	if !ok {
		return Resource{}, fmt.Errorf("%w: resource %q", ErrNotFound, id)
	}
	return r, nil
}

// Indication implements Source.
func (s *StaticSource) Indication(_ context.Context, patientID, serviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indications[indicationKey(patientID, serviceID)], nil
}

// staticFile is the JSON layout accepted by LoadStatic.
type staticFile struct {
	Services    []Service  `json:"services"`
	Resources   []Resource `json:"resources"`
	Indications []struct {
		PatientID  string `json:"patientId"`
		ServiceID  string `json:"serviceId"`
		Indication string `json:"indication"`
	} `json:"indications"`
}

// LoadStatic reads a catalog document of services, resources and
// indications.
func LoadStatic(r io.Reader) (*StaticSource, error) {
	var doc staticFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	s := NewStaticSource()
	s.PutService(doc.Services...)
	s.PutResource(doc.Resources...)
	for _, ind := range doc.Indications {
		s.PutIndication(ind.PatientID, ind.ServiceID, ind.Indication)
	}
	return s, nil
}
