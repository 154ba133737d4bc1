package github

import (
	"context"
	"strconv"

	"github.com/smallnest/ragbridge/log"
	"github.com/smallnest/ragbridge/rag"
)

// IssueState filters issues by state.
type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
	IssueStateAll    IssueState = "all"
)

// IssuesReader loads the issues of a repository. Pull requests are skipped.
type IssuesReader struct {
	client *Client
	owner  string
	repo   string
	logger log.Logger
}

// NewIssuesReader creates a reader for the issues of owner/repo.
func NewIssuesReader(client *Client, owner, repo string) (*IssuesReader, error) {
	if client == nil {
		return nil, rag.NewConfigError("client", nil, "a GitHub client is required")
	}
	if owner == "" || repo == "" {
		return nil, rag.NewConfigError("repo", nil, "owner and repo are required")
	}
	return &IssuesReader{client: client, owner: owner, repo: repo, logger: client.logger}, nil
}

// LoadData pages through issues in state until an empty page.
func (r *IssuesReader) LoadData(ctx context.Context, state IssueState) ([]*rag.Node, error) {
	if state == "" {
		state = IssueStateOpen
	}

	var nodes []*rag.Node
	for page := 1; ; page++ {
		issues, err := r.client.GetIssues(ctx, r.owner, r.repo, string(state), page)
		if err != nil {
			return nil, err
		}
		if len(issues) == 0 {
			break
		}
		for _, issue := range issues {
			if issue.PullRequest != nil {
				continue
			}
			nodes = append(nodes, issueNode(issue))
		}
	}
	r.logger.Debug("loaded %d issues from %s/%s", len(nodes), r.owner, r.repo)
	return nodes, nil
}

func issueNode(issue Issue) *rag.Node {
	metadata := map[string]any{
		"state":      issue.State,
		"created_at": issue.CreatedAt,
		"url":        issue.URL,
		"source":     issue.HTMLURL,
	}
	if issue.ClosedAt != nil {
		metadata["closed_at"] = *issue.ClosedAt
	}
	if len(issue.Labels) > 0 {
		labels := make([]string, len(issue.Labels))
		for i, l := range issue.Labels {
			labels[i] = l.Name
		}
		metadata["labels"] = labels
	}
	if issue.Assignee != nil {
		metadata["assignee"] = issue.Assignee.Login
	}

	return &rag.Node{
		ID:       strconv.Itoa(issue.Number),
		Text:     issue.Title + "\n" + issue.Body,
		Metadata: metadata,
	}
}
