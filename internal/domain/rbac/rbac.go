// Пакет rbac — роли вызывающей стороны и проверки возможностей.
// Роль — закрытый перечислимый тип; все проверки вида «может ли
// вызывающий загружать/править/удалять» собраны здесь, а не разбросаны
// по обработчикам в виде сравнения строк.
package rbac

import "fmt"

// Role — роль субъекта. Значения упорядочены по возрастанию привилегий.
type Role int

const (
	// RoleAnonymous — запрос без токена.
	RoleAnonymous Role = iota
	// RoleVisitor — аутентифицированный пользователь без прав загрузки.
	RoleVisitor
	// RoleEditor — может загружать изображения.
	RoleEditor
	// RoleAdmin — полный доступ, включая чужие и приватные изображения.
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleAnonymous: "anonymous",
	RoleVisitor:   "visitor",
	RoleEditor:    "editor",
	RoleAdmin:     "admin",
}

// String возвращает строковое имя роли.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole преобразует строку в роль. Анонимная роль из строки не
// выводится: её получает только запрос без токена.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "visitor":
		return RoleVisitor, true
	case "editor":
		return RoleEditor, true
	case "admin":
		return RoleAdmin, true
	default:
		return RoleAnonymous, false
	}
}

// HighestRole возвращает максимальную роль из набора.
// Пустой набор — RoleAnonymous.
func HighestRole(roles ...Role) Role {
	highest := RoleAnonymous
	for _, r := range roles {
		if r > highest {
			highest = r
		}
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Совпадений нет — RoleVisitor (пользователь аутентифицирован).
func MapGroupsToRole(groups []string, adminGroups, editorGroups []string) Role {
	adminSet := toSet(adminGroups)
	editorSet := toSet(editorGroups)

	role := RoleVisitor
	for _, g := range groups {
		if adminSet[g] {
			role = HighestRole(role, RoleAdmin)
		}
		if editorSet[g] {
			role = HighestRole(role, RoleEditor)
		}
	}
	return role
}

// Caller — личность вызывающей стороны для одного запроса.
type Caller struct {
	// UserID — sub из JWT, пустой для анонимного запроса.
	UserID string
	// Role — эффективная роль.
	Role Role
}

// Anonymous возвращает вызывающего без аутентификации.
func Anonymous() Caller {
	return Caller{Role: RoleAnonymous}
}

// Authenticated сообщает, предъявил ли вызывающий валидный токен.
func (c Caller) Authenticated() bool {
	return c.UserID != "" && c.Role != RoleAnonymous
}

// IsElevated — административные полномочия.
func (c Caller) IsElevated() bool {
	return c.Role == RoleAdmin
}

// Owns сообщает, является ли вызывающий владельцем ресурса.
func (c Caller) Owns(ownerID string) bool {
	return c.Authenticated() && ownerID != "" && c.UserID == ownerID
}

// CanUpload — загрузка новых изображений (editor, admin).
func (c Caller) CanUpload() bool {
	return c.Authenticated() && c.Role >= RoleEditor
}

// CanEdit — изменение метаданных изображения (владелец или admin).
func (c Caller) CanEdit(ownerID string) bool {
	return c.Owns(ownerID) || c.IsElevated()
}

// CanDelete — удаление изображения (владелец или admin).
func (c Caller) CanDelete(ownerID string) bool {
	return c.Owns(ownerID) || c.IsElevated()
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
