package tenant

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTenant is returned when the organization/site pair is
	// missing or malformed. Rejected before any work, never retried.
	ErrInvalidTenant = errors.New("invalid tenant context")

	// ErrOwnershipMismatch is returned when a referenced entity does not
	// belong to the given tenant.
	ErrOwnershipMismatch = errors.New("entity does not belong to tenant")
)

// Tenant scopes every entity in the system. All reads and writes are
// parameterized by it; it is never inferred from ambient state.
type Tenant struct {
	OrganizationID string `json:"organization_id"`
	SiteID         string `json:"site_id"`
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.OrganizationID) == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidTenant)
	}
	if strings.TrimSpace(t.SiteID) == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalidTenant)
	}
	return nil
}

func (t Tenant) String() string {
	return t.OrganizationID + "/" + t.SiteID
}

// Source type values accepted from the synchronization collaborator.
const (
	SourceTypePost     = "wp_post"
	SourceTypePage     = "wp_page"
	SourceTypeAI       = "ai_content"
	SourceTypeTemplate = "template"
)

var sourceTypes = map[string]bool{
	SourceTypePost:     true,
	SourceTypePage:     true,
	SourceTypeAI:       true,
	SourceTypeTemplate: true,
}

func ValidSourceType(s string) bool {
	return sourceTypes[s]
}
