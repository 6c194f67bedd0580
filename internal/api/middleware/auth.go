// auth.go — JWT middleware для аутентификации Media Module.
// Валидирует подпись через JWKS Identity Provider, маппит группы и
// realm_access.roles в rbac.Role и помещает rbac.Caller в контекст.
// Часть маршрутов допускает анонимный доступ (Optional): решение о
// доступе к изображению принимает privacy gate в сервисном слое.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyCaller — вызывающий (rbac.Caller) в контексте запроса.
	ContextKeyCaller contextKey = "caller"
)

// keycloakClaims — raw claims из JWT Identity Provider.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Groups — группы пользователя.
	Groups []string `json:"groups,omitempty"`
}

// realmAccess — вложенная структура realm_access в Keycloak JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks         keyfunc.Keyfunc
	logger       *slog.Logger
	adminGroups  []string
	editorGroups []string
	issuer       string
	jwtLeeway    time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS Identity Provider.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пустой — issuer не проверяется).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	adminGroups, editorGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, issuer, adminGroups, editorGroups, logger)
	auth.jwtLeeway = jwtLeeway
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS из памяти.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	adminGroups, editorGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:         kf,
		logger:       logger.With(slog.String("component", "jwt_auth")),
		adminGroups:  adminGroups,
		editorGroups: editorGroups,
		issuer:       issuer,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Required — middleware для маршрутов, требующих токен.
func (j *JWTAuth) Required() func(http.Handler) http.Handler {
	return j.middleware(true)
}

// Optional — middleware для маршрутов с анонимным доступом.
// Без заголовка Authorization в контекст кладётся rbac.Anonymous();
// предъявленный, но невалидный токен отклоняется с 401, а не
// понижается до анонима.
func (j *JWTAuth) Optional() func(http.Handler) http.Handler {
	return j.middleware(false)
}

func (j *JWTAuth) middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), rbac.Anonymous())))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			caller, err := j.authenticate(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// authenticate валидирует токен (RS256) и строит rbac.Caller.
func (j *JWTAuth) authenticate(ctx context.Context, tokenString string) (rbac.Caller, error) {
	rawClaims := &keycloakClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return rbac.Caller{}, err
	}
	if !token.Valid {
		return rbac.Caller{}, fmt.Errorf("невалидный токен")
	}

	subject, err := rawClaims.GetSubject()
	if err != nil || subject == "" {
		return rbac.Caller{}, fmt.Errorf("отсутствует sub в токене")
	}

	return rbac.Caller{
		UserID: subject,
		Role:   j.resolveRole(rawClaims),
	}, nil
}

// resolveRole — максимум из роли по группам IdP и ролей realm_access.
// Аутентифицированный пользователь без совпадений получает RoleVisitor.
func (j *JWTAuth) resolveRole(raw *keycloakClaims) rbac.Role {
	role := rbac.MapGroupsToRole(raw.Groups, j.adminGroups, j.editorGroups)
	if raw.RealmAccess == nil {
		return role
	}
	for _, name := range raw.RealmAccess.Roles {
		if r, ok := rbac.ParseRole(name); ok {
			role = rbac.HighestRole(role, r)
		}
	}
	return role
}

// --- Context helpers ---

// WithCaller помещает вызывающего в контекст.
func WithCaller(ctx context.Context, caller rbac.Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext извлекает вызывающего из контекста.
// Без middleware аутентификации — rbac.Anonymous().
func CallerFromContext(ctx context.Context) rbac.Caller {
	caller, ok := ctx.Value(ContextKeyCaller).(rbac.Caller)
	if !ok {
		return rbac.Anonymous()
	}
	return caller
}
