// Package middleware содержит HTTP middleware для сервиса групповой лояльности.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const identityKey contextKey = "actingIdentity"

const (
	identityCookieName = "acting_identity"
	identityCookieTTL  = 24 * time.Hour
)

// IdentityKind различает тип действующего лица, переданного шлюзом.
type IdentityKind string

const (
	IdentityKindShop     IdentityKind = "shop"
	IdentityKindCustomer IdentityKind = "customer"
)

// Identity описывает действующее лицо запроса. Аутентификацию выполняет
// внешний шлюз; сервис только проверяет подпись и фиксирует атрибуцию.
type Identity struct {
	Kind     IdentityKind
	ShopID   int64
	Customer string
}

// IdentityMiddleware проверяет подписанную шлюзом cookie с действующим лицом запроса.
type IdentityMiddleware struct {
	secretKey []byte
}

// NewIdentityMiddleware создаёт новый экземпляр IdentityMiddleware с указанным секретным ключом.
func NewIdentityMiddleware(secret string) *IdentityMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &IdentityMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie действующего лица и добавляет его в контекст запроса.
func (m *IdentityMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(identityCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		identity, ok := m.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetIdentityCookie устанавливает подписанную cookie действующего лица.
// В боевой схеме это делает шлюз; хелпер нужен тестам и локальной отладке.
func (m *IdentityMiddleware) SetIdentityCookie(w http.ResponseWriter, identity Identity) {
	value := m.sign(encodeIdentity(identity))

	cookie := &http.Cookie{
		Name:     identityCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(identityCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func encodeIdentity(identity Identity) string {
	switch identity.Kind {
	case IdentityKindShop:
		return string(IdentityKindShop) + ":" + strconv.FormatInt(identity.ShopID, 10)
	case IdentityKindCustomer:
		return string(IdentityKindCustomer) + ":" + identity.Customer
	}
	return ""
}

func decodeIdentity(payload string) (Identity, bool) {
	kind, subject, ok := strings.Cut(payload, ":")
	if !ok || subject == "" {
		return Identity{}, false
	}

	switch IdentityKind(kind) {
	case IdentityKindShop:
		id, err := strconv.ParseInt(subject, 10, 64)
		if err != nil {
			return Identity{}, false
		}
		return Identity{Kind: IdentityKindShop, ShopID: id}, true
	case IdentityKindCustomer:
		return Identity{Kind: IdentityKindCustomer, Customer: subject}, true
	}

	return Identity{}, false
}

func (m *IdentityMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(payload))
	signature := mac.Sum(nil)
	return payload + "." + hex.EncodeToString(signature)
}

func (m *IdentityMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	idx := strings.LastIndex(cookieValue, ".")
	if idx < 0 {
		return Identity{}, false
	}

	payload := cookieValue[:idx]
	signature := cookieValue[idx+1:]

	expected := m.sign(payload)
	expectedSignature := expected[strings.LastIndex(expected, ".")+1:]

	if !hmac.Equal([]byte(signature), []byte(expectedSignature)) {
		return Identity{}, false
	}

	return decodeIdentity(payload)
}

// GetIdentityFromContext извлекает действующее лицо из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// GetShopFromContext извлекает идентификатор магазина, если действует магазин.
func GetShopFromContext(ctx context.Context) (int64, bool) {
	identity, ok := GetIdentityFromContext(ctx)
	if !ok || identity.Kind != IdentityKindShop {
		return 0, false
	}
	return identity.ShopID, true
}

// GetCustomerFromContext извлекает адрес покупателя, если действует покупатель.
func GetCustomerFromContext(ctx context.Context) (string, bool) {
	identity, ok := GetIdentityFromContext(ctx)
	if !ok || identity.Kind != IdentityKindCustomer {
		return "", false
	}
	return identity.Customer, true
}
