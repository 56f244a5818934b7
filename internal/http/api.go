// Package http provides the operator HTTP API for specd and a client for it.
package http

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/docstore"
)

// API is the operator surface. Service implements it in process; Client
// implements it over HTTP.
type API interface {
	List(ctx context.Context) ([]*docstore.Specification, error)
	Get(ctx context.Context, id string) (*docstore.Specification, error)
	Create(ctx context.Context, req CreateRequest) (*docstore.Specification, error)
	AddTask(ctx context.Context, id string, req TaskRequest) (docstore.Task, error)
	Attach(ctx context.Context, id string, kind docstore.ArtifactKind, req ArtifactRequest) error
	Advance(ctx context.Context, id string) (coordinator.NextAction, error)
	Approve(ctx context.Context, id string) (*docstore.Specification, error)
	Abort(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (*coordinator.StatusInfo, error)
}

// CreateRequest is the body of POST /api/v1/specs. When Markdown is set
// the other fields are read from its frontmatter.
type CreateRequest struct {
	Title        string   `json:"title,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Requirements string   `json:"requirements,omitempty"`
	Markdown     string   `json:"markdown,omitempty"`
}

// TaskRequest is the body of POST /api/v1/specs/:id/tasks.
type TaskRequest struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// ArtifactRequest is the body of POST /api/v1/specs/:id/artifacts/:kind.
// Name is required for feature records.
type ArtifactRequest struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// AbortResponse is the body returned by POST /api/v1/specs/:id/abort.
type AbortResponse struct {
	Aborted bool `json:"aborted"`
}

// ListResponse is the body returned by GET /api/v1/specs.
type ListResponse struct {
	Specs []*docstore.Specification `json:"specs"`
}

// Specs is the subset of the document store the API uses.
type Specs interface {
	ListSpecifications(ctx context.Context) ([]*docstore.Specification, error)
	GetSpecification(ctx context.Context, id string) (*docstore.Specification, error)
	CreateSpecification(ctx context.Context, title string, opts ...docstore.CreateOption) (*docstore.Specification, error)
	CreateFromMarkdown(ctx context.Context, doc string) (*docstore.Specification, error)
	AddTask(ctx context.Context, id string, task docstore.Task) (docstore.Task, error)
	AttachArtifact(ctx context.Context, id string, kind docstore.ArtifactKind, content string) error
	AttachFeature(ctx context.Context, id, name, content string) error
}

// Engine is the subset of the coordinator the API uses.
type Engine interface {
	Advance(ctx context.Context, id string) (coordinator.NextAction, error)
	Approve(ctx context.Context, id string) (*docstore.Specification, error)
	Abort(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (*coordinator.StatusInfo, error)
}

// Service implements API over a store and a coordinator.
type Service struct {
	specs  Specs
	engine Engine
}

// NewService creates a Service.
func NewService(specs Specs, engine Engine) *Service {
	return &Service{specs: specs, engine: engine}
}

func (s *Service) List(ctx context.Context) ([]*docstore.Specification, error) {
	return s.specs.ListSpecifications(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*docstore.Specification, error) {
	return s.specs.GetSpecification(ctx, id)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*docstore.Specification, error) {
	if strings.TrimSpace(req.Markdown) != "" {
		return s.specs.CreateFromMarkdown(ctx, req.Markdown)
	}
	var opts []docstore.CreateOption
	if len(req.Tags) > 0 {
		opts = append(opts, docstore.WithTags(req.Tags...))
	}
	if len(req.DependsOn) > 0 {
		opts = append(opts, docstore.WithDependsOn(req.DependsOn...))
	}
	if req.Requirements != "" {
		opts = append(opts, docstore.WithRequirements(req.Requirements))
	}
	return s.specs.CreateSpecification(ctx, req.Title, opts...)
}

func (s *Service) AddTask(ctx context.Context, id string, req TaskRequest) (docstore.Task, error) {
	return s.specs.AddTask(ctx, id, docstore.Task{ID: req.ID, Description: req.Description, DependsOn: req.DependsOn})
}

func (s *Service) Attach(ctx context.Context, id string, kind docstore.ArtifactKind, req ArtifactRequest) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown artifact kind %q", docstore.ErrInvalidInput, kind)
	}
	if kind == docstore.ArtifactFeature {
		if strings.TrimSpace(req.Name) == "" {
			return fmt.Errorf("%w: feature records need a name", docstore.ErrInvalidInput)
		}
		return s.specs.AttachFeature(ctx, id, req.Name, req.Content)
	}
	return s.specs.AttachArtifact(ctx, id, kind, req.Content)
}

func (s *Service) Advance(ctx context.Context, id string) (coordinator.NextAction, error) {
	return s.engine.Advance(ctx, id)
}

func (s *Service) Approve(ctx context.Context, id string) (*docstore.Specification, error) {
	return s.engine.Approve(ctx, id)
}

func (s *Service) Abort(ctx context.Context, id string) (bool, error) {
	return s.engine.Abort(ctx, id)
}

func (s *Service) Status(ctx context.Context, id string) (*coordinator.StatusInfo, error) {
	return s.engine.Status(ctx, id)
}
