package roles

// Permission strings checked by the authorization middleware.
const (
	PermSelfRead       = "self:read"
	PermSelfWrite      = "self:write"
	PermOrdersCreate   = "orders:create"
	PermOrdersReadOwn  = "orders:read-own"
	PermUsersManage    = "users:manage"
	PermProductsManage = "products:manage"
	PermOrdersManage   = "orders:manage"
)

// table is built once at init and never mutated afterwards.
var table = map[string]map[string]struct{}{}

func init() {
	userPerms := []string{PermSelfRead, PermSelfWrite, PermOrdersCreate, PermOrdersReadOwn}
	adminPerms := append([]string{PermUsersManage, PermProductsManage, PermOrdersManage}, userPerms...)

	table["user"] = toSet(userPerms)
	table["admin"] = toSet(adminPerms)
}

func toSet(perms []string) map[string]struct{} {
	s := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func Known(role string) bool {
	_, ok := table[role]
	return ok
}

func Allowed(role, perm string) bool {
	perms, ok := table[role]
	if !ok {
		return false
	}
	_, ok = perms[perm]
	return ok
}
