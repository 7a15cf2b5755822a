package domain

import "strings"

const (
	PermissionAllFunctions     = "ALL_FUNCTIONS"
	PermissionAllFunctionsRead = "ALL_FUNCTIONS_READ"
	PermissionCheckerSuperUser = "CHECKER_SUPER_USER"
	checkerSuffix              = "_CHECKER"
)

// Tenant carries the per-tenant settings the pipeline depends on.
type Tenant struct {
	ID                  string `json:"id" db:"id"`
	Name                string `json:"name" db:"name"`
	MakerCheckerEnabled bool   `json:"makerCheckerEnabled" db:"maker_checker_enabled"`
	MaxRetries          int    `json:"maxRetries" db:"max_retries_on_deadlock"`
	MaxIntervalSeconds  int    `json:"maxIntervalSeconds" db:"max_interval_between_retries"`
}

// User is the acting principal, resolved by username on every execution.
type User struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	OfficeID    int64    `json:"officeId"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether u holds code directly.
func (u User) HasPermission(code string) bool {
	for _, p := range u.Permissions {
		if strings.EqualFold(p, code) {
			return true
		}
	}
	return false
}

// CanExecute reports whether u may run the task guarded by code.
func (u User) CanExecute(code string) bool {
	if u.HasPermission(PermissionAllFunctions) {
		return true
	}
	if strings.HasPrefix(code, "READ_") && u.HasPermission(PermissionAllFunctionsRead) {
		return true
	}
	return u.HasPermission(code)
}

// CanCheck reports whether u may approve or reject commands guarded by code.
func (u User) CanCheck(code string) bool {
	return u.HasPermission(PermissionCheckerSuperUser) || u.HasPermission(CheckerPermission(code))
}

// PermissionCode builds the task permission for an action on an entity.
func PermissionCode(action, entity string) string {
	return strings.ToUpper(action) + "_" + strings.ToUpper(entity)
}

// CheckerPermission is the permission a checker needs for code.
func CheckerPermission(code string) string {
	return code + checkerSuffix
}

// ExecutionContext is handed to every handler explicitly. It replaces any
// ambient tenant or identity state.
type ExecutionContext struct {
	Tenant            Tenant
	User              User
	AuthToken         string
	CorrelationID     string
	ApprovedByChecker bool
}

// RequireExecute returns an authorization error if the acting user may not
// run env.
func (ec ExecutionContext) RequireExecute(env *Envelope) error {
	code := env.PermissionCode()
	if !ec.User.CanExecute(code) {
		return &AuthorizationError{User: ec.User.Username, Permission: code}
	}
	return nil
}

// RequireChecker returns an authorization error if the acting user may not
// approve commands guarded by code.
func (ec ExecutionContext) RequireChecker(code string) error {
	if !ec.User.CanCheck(code) {
		return &AuthorizationError{User: ec.User.Username, Permission: CheckerPermission(code)}
	}
	return nil
}
