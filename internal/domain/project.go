package domain

import "time"

// OverallStatus is the lifecycle state of a project.
type OverallStatus string

const (
	OverallStatusActive    OverallStatus = "ACTIVE"
	OverallStatusCompleted OverallStatus = "COMPLETED"
)

// Project is the entity whose status categories are tracked.
// OverallStatus only moves to COMPLETED through a CHECK update.
type Project struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	OverallStatus OverallStatus `json:"overallStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Role is an actor role. Roles decide which categories an actor may update
// and which role rooms a connection joins.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RolePM        Role = "PM"
	RoleWarehouse Role = "WAREHOUSE"
	RoleViewer    Role = "VIEWER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePM, RoleWarehouse, RoleViewer:
		return true
	}
	return false
}

// Identity is the authenticated actor behind a request or connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// ProjectSnapshot is the full view of a project: the entity plus the latest
// record of each category.
type ProjectSnapshot struct {
	ID            string                                  `json:"id"`
	Name          string                                  `json:"name"`
	OverallStatus OverallStatus                           `json:"overallStatus"`
	Statuses      map[StatusCategory]*StatusUpdateRecord `json:"statuses"`
	UpdatedAt     time.Time                               `json:"updatedAt"`
}

// NewProjectSnapshot builds a snapshot from a project and its latest records.
func NewProjectSnapshot(p *Project, latest map[StatusCategory]*StatusUpdateRecord) *ProjectSnapshot {
	s := &ProjectSnapshot{
		ID:            p.ID,
		Name:          p.Name,
		OverallStatus: p.OverallStatus,
		Statuses:      make(map[StatusCategory]*StatusUpdateRecord, len(latest)),
		UpdatedAt:     p.UpdatedAt,
	}
	for cat, rec := range latest {
		if rec == nil {
			continue
		}
		s.Statuses[cat] = rec
		if rec.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = rec.CreatedAt
		}
	}
	return s
}

// Value returns the current display value of a category, "" if never set.
func (s *ProjectSnapshot) Value(cat StatusCategory) string {
	if s == nil || s.Statuses[cat] == nil {
		return ""
	}
	return s.Statuses[cat].Value
}

// Clone returns a copy whose map and records can be replaced independently.
// Records are treated as immutable, so Extra is shared.
func (s *ProjectSnapshot) Clone() *ProjectSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Statuses = make(map[StatusCategory]*StatusUpdateRecord, len(s.Statuses))
	for cat, rec := range s.Statuses {
		if rec == nil {
			continue
		}
		r := *rec
		c.Statuses[cat] = &r
	}
	return &c
}
