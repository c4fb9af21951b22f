package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"grade:view-own",
	},
	"teacher": {
		"grade:view-own",
		"grade:write",
		"lineitem:view",
		"users:list",
	},
	"admin": {
		"*", // everything
	},
}
