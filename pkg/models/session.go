package models

// Mode scopes broadcast visibility and persisted state within a project.
type Mode string

const (
	ModeLaboratory          Mode = "laboratory"
	ModeLaboratoryDashboard Mode = "laboratory-dashboard"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeLaboratory || m == ModeLaboratoryDashboard
}

// ProjectContext identifies the client/app/project a session belongs to.
type ProjectContext struct {
	Client  string `json:"client_name"`
	App     string `json:"app_name"`
	Project string `json:"project_name"`
}

// Key returns the canonical project key "client:app:project" used by the
// collaborative sync hub for room addressing.
func (c ProjectContext) Key() string {
	return c.Client + ":" + c.App + ":" + c.Project
}

// IsZero reports whether no project context was supplied.
func (c ProjectContext) IsZero() bool {
	return c.Client == "" && c.App == "" && c.Project == ""
}
