package gitlab

// Project is the subset of the project resource the sync reads.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	NameWithNamespace string `json:"name_with_namespace"`
}

// DisplayName prefers the namespaced project name.
func (p *Project) DisplayName() string {
	if p.NameWithNamespace != "" {
		return p.NameWithNamespace
	}
	return p.Name
}

// Milestone is the subset of the milestone resource the sync reads.
type Milestone struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Target is an issue or merge request.
type Target struct {
	ID          int      `json:"id"`
	IID         int      `json:"iid"`
	ProjectID   int      `json:"project_id"`
	Title       string   `json:"title"`
	State       string   `json:"state"`
	WebURL      string   `json:"web_url"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// Closed reports whether the target is no longer open. GitLab reports open
// targets as "opened" or "reopened".
func (t *Target) Closed() bool {
	return t.State != "opened" && t.State != "reopened"
}
