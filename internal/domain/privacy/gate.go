// Пакет privacy — решение о доступе к изображению на чтение.
//
//   - public — разрешено всем;
//   - unlisted — разрешено только при обращении по id, из перечислений исключено;
//   - private — только владелец или администратор.
package privacy

import (
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
)

// Access — способ, которым запрос добрался до изображения.
type Access int

const (
	// AccessDirect — запрос по конкретному id (карточка, blob).
	AccessDirect Access = iota
	// AccessEnumeration — списки, поиск, статистика.
	AccessEnumeration
)

// Decision — результат проверки.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Allowed — удобная проверка Decision == Allow.
func (d Decision) Allowed() bool {
	return d == Allow
}

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// CanRead решает, может ли caller видеть asset и его байты.
// Неизвестный уровень приватности трактуется как private.
func CanRead(asset *model.Asset, caller rbac.Caller, access Access) Decision {
	if asset == nil {
		return Deny
	}

	switch asset.Privacy {
	case model.PrivacyPublic:
		return Allow
	case model.PrivacyUnlisted:
		if access == AccessDirect {
			return Allow
		}
		return Deny
	default:
		if caller.Owns(asset.OwnerID) || caller.IsElevated() {
			return Allow
		}
		return Deny
	}
}

// ListablePrivacy — уровни, которые могут появляться в перечислениях.
// Репозиторий фильтрует по нему на уровне SQL.
func ListablePrivacy() []model.Privacy {
	return []model.Privacy{model.PrivacyPublic}
}
