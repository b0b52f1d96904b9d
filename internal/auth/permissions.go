package auth

import "sort"

const (
	PermUserRead           = "user:read"
	PermUserUpdate         = "user:update"
	PermUserDelete         = "user:delete"
	PermUserChangePassword = "user:change_password"

	PermBlogCreate = "blog:create"
	PermBlogEdit   = "blog:edit"
	PermBlogDelete = "blog:delete"
	PermBlogRead   = "blog:read"

	PermCategoryCreate = "category:create"
	PermCategoryUpdate = "category:update"
	PermCategoryDelete = "category:delete"
	PermCategoryRead   = "category:read"

	PermCommentCreate = "comment:create"
	PermCommentUpdate = "comment:update"
	PermCommentDelete = "comment:delete"
	PermCommentRead   = "comment:read"
)

// rolePermissions is built once and only read afterwards.
var rolePermissions = map[Role]map[string]struct{}{
	RoleAdmin: permissionSet(
		PermUserRead, PermUserUpdate, PermUserDelete, PermUserChangePassword,
		PermBlogCreate, PermBlogEdit, PermBlogDelete, PermBlogRead,
		PermCategoryCreate, PermCategoryUpdate, PermCategoryDelete, PermCategoryRead,
		PermCommentCreate, PermCommentUpdate, PermCommentDelete, PermCommentRead,
	),
	RoleEditor: permissionSet(
		PermBlogCreate, PermBlogEdit, PermBlogDelete,
		PermCategoryRead,
		PermCommentRead, PermCommentDelete,
	),
	RoleAuthor: permissionSet(
		PermBlogCreate, PermBlogEdit, PermBlogRead,
		PermCommentCreate, PermCommentRead,
	),
	RoleUser: permissionSet(
		PermBlogRead,
		PermCommentCreate, PermCommentRead,
	),
}

func permissionSet(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
	Status   Status `json:"status"`
}

// Authorize checks that principal may perform the action identified by perm.
func Authorize(principal *Principal, perm string) error {
	if principal == nil {
		return ErrUnauthorized
	}
	set, ok := rolePermissions[principal.Role]
	if !ok {
		return &Error{Kind: KindInvalidRole, Message: "access denied: invalid role " + string(principal.Role)}
	}
	if _, ok := set[perm]; !ok {
		return ErrPermissionDenied
	}
	return nil
}

// PermissionsFor returns the sorted permissions granted to role.
func PermissionsFor(role Role) []string {
	set := rolePermissions[role]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownRole reports whether role has an entry in the permission map.
func KnownRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}
