package auth

// Capability is a named permission checked at authorization time.
type Capability string

const (
	CapViewDashboard Capability = "view-dashboard"
	CapViewReports   Capability = "view-reports"
	CapExportReports Capability = "export-reports"
	CapEditUser      Capability = "edit-user"
	CapManageOrg     Capability = "manage-organization"
	CapSyncOrg       Capability = "sync-organization"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{
	CapViewDashboard,
	CapViewReports,
	CapExportReports,
	CapEditUser,
	CapManageOrg,
	CapSyncOrg,
}

// grants is the full role-by-capability policy, kept as data so the
// whole table can be enumerated. All grants are scoped to the user's
// own organization; the cross-organization check happens before this
// table is consulted.
var grants = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapViewDashboard: true,
		CapViewReports:   true,
		CapExportReports: true,
		CapEditUser:      true,
		CapManageOrg:     true,
		CapSyncOrg:       true,
	},
	RoleExecutive: {
		CapViewDashboard: true,
		CapViewReports:   true,
		CapExportReports: true,
	},
	RoleManager: {
		CapViewDashboard: true,
		CapViewReports:   true,
	},
	RoleStaff: {
		CapViewDashboard: true,
	},
}

// RoleGrants reports whether role grants capability within its own
// organization. Unknown roles and unknown capabilities grant nothing.
func RoleGrants(role Role, capability Capability) bool {
	return grants[role][capability]
}
