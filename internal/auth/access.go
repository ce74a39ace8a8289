package auth

import (
	"github.com/casbin/casbin/v2"
)

// Capabilities checked against a subject and a page locator.
const (
	CapReadPages    = "read:pages"
	CapWritePages   = "write:pages"
	CapManagePages  = "manage:pages"
	CapDeletePages  = "delete:pages"
	CapPublishPages = "publish:pages"
	CapApprovePages = "approve:pages"
	CapManageSystem = "manage:system"
	CapWriteStyles  = "write:styles"
	CapWriteScripts = "write:scripts"
)

// Subject is the acting identity for an operation.
type Subject struct {
	ID    int64
	Name  string
	Email string
}

// Resource locates the page (or path namespace) an operation targets.
type Resource struct {
	Locale string
	Path   string
	Tags   []string
}

// AccessControl evaluates whether a subject holds at least one of the
// requested capabilities on a resource.
type AccessControl interface {
	CheckAccess(subject Subject, capabilities []string, res Resource) bool
}

// CasbinAccess is the casbin-backed AccessControl implementation. Policies
// match (subject role, capability, locale/path) with keyMatch2 wildcards on
// the object.
type CasbinAccess struct {
	enforcer casbin.IEnforcer
}

// NewCasbinAccess wraps a configured enforcer.
func NewCasbinAccess(enforcer casbin.IEnforcer) *CasbinAccess {
	return &CasbinAccess{enforcer: enforcer}
}

// CheckAccess returns true when the subject holds any one of the given
// capabilities on the resource. Evaluation errors deny access.
func (a *CasbinAccess) CheckAccess(subject Subject, capabilities []string, res Resource) bool {
	obj := res.Locale + "/" + res.Path
	for _, capability := range capabilities {
		ok, err := a.enforcer.Enforce(subject.Name, capability, obj)
		if err == nil && ok {
			return true
		}
	}
	return false
}
