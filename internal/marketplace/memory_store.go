package marketplace

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	proposals map[string]*Proposal
}

// NewMemoryStore creates an empty in-memory marketplace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*Project),
		proposals: make(map[string]*Proposal),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return ErrProjectNotFound
	}
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, status ProjectStatus, clientID string, limit, offset int) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Project
	for _, p := range s.projects {
		if status != "" && p.Status != status {
			continue
		}
		if clientID != "" && p.ClientID != clientID {
			continue
		}
		result = append(result, copyProject(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, limit, offset), nil
}

func (s *MemoryStore) CreateProposal(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = copyProposal(p)
	return nil
}

func (s *MemoryStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return copyProposal(p), nil
}

func (s *MemoryStore) UpdateProposal(ctx context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return ErrProposalNotFound
	}
	s.proposals[p.ID] = copyProposal(p)
	return nil
}

func (s *MemoryStore) ListProposalsByProject(ctx context.Context, projectID string) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Proposal
	for _, p := range s.proposals {
		if p.ProjectID == projectID {
			result = append(result, copyProposal(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListProposalsByFreelancer(ctx context.Context, freelancerID string, limit, offset int) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Proposal
	for _, p := range s.proposals {
		if p.FreelancerID == freelancerID {
			result = append(result, copyProposal(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func copyProject(p *Project) *Project {
	c := *p
	return &c
}

func copyProposal(p *Proposal) *Proposal {
	c := *p
	c.Milestones = append([]ProposalMilestone(nil), p.Milestones...)
	return &c
}
