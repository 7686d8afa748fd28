package service

import "sync"

// ServiceFactory builds the services once from their shared dependencies.
type ServiceFactory struct {
	deps Deps

	once   sync.Once
	ingest *IngestService
}

func NewServiceFactory(deps Deps) *ServiceFactory {
	return &ServiceFactory{deps: deps}
}

// IngestService returns the ingest service instance (singleton)
func (f *ServiceFactory) IngestService() *IngestService {
	f.once.Do(func() {
		f.ingest = NewIngestService(f.deps)
	})
	return f.ingest
}
