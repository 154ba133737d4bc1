package github

import (
	"context"

	"github.com/smallnest/ragbridge/rag"
)

// CollaboratorsReader loads the collaborators of a repository.
type CollaboratorsReader struct {
	client *Client
	owner  string
	repo   string
}

var _ rag.Reader = (*CollaboratorsReader)(nil)

// NewCollaboratorsReader creates a reader for the collaborators of owner/repo.
func NewCollaboratorsReader(client *Client, owner, repo string) (*CollaboratorsReader, error) {
	if client == nil {
		return nil, rag.NewConfigError("client", nil, "a GitHub client is required")
	}
	if owner == "" || repo == "" {
		return nil, rag.NewConfigError("repo", nil, "owner and repo are required")
	}
	return &CollaboratorsReader{client: client, owner: owner, repo: repo}, nil
}

// LoadData pages through collaborators until an empty page.
func (r *CollaboratorsReader) LoadData(ctx context.Context) ([]*rag.Node, error) {
	var nodes []*rag.Node
	for page := 1; ; page++ {
		collaborators, err := r.client.GetCollaborators(ctx, r.owner, r.repo, page)
		if err != nil {
			return nil, err
		}
		if len(collaborators) == 0 {
			return nodes, nil
		}
		for _, c := range collaborators {
			nodes = append(nodes, &rag.Node{
				ID:   c.Login,
				Text: c.Login,
				Metadata: map[string]any{
					"login":      c.Login,
					"type":       c.Type,
					"site_admin": c.SiteAdmin,
					"role_name":  c.RoleName,
				},
			})
		}
	}
}
