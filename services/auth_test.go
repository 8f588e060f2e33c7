package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:ABC-test-token"

// signInitData produces initData signed the way Telegram signs it: the hex
// HMAC-SHA256 of the sorted key=value lines, keyed with
// HMAC-SHA256("WebAppData", botToken).
func signInitData(botToken string, values url.Values) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validInitValues(authDate time.Time) url.Values {
	values := url.Values{}
	values.Set("query_id", "AAH_test")
	values.Set("user", `{"id":42,"first_name":"Ada","username":"ada"}`)
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	return values
}

func TestValidateInitData_AcceptsSignedPayload(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}
	initData := signInitData(testBotToken, validInitValues(time.Now()))

	user, err := svc.ValidateInitData(initData)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "ada", user.Username)
}

func TestValidateInitData_RejectsTamperedPayload(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}
	initData := signInitData(testBotToken, validInitValues(time.Now()))

	// Swap the user id after signing.
	tampered := strings.Replace(initData, "%22id%22%3A42", "%22id%22%3A43", 1)
	require.NotEqual(t, initData, tampered)

	_, err := svc.ValidateInitData(tampered)
	assert.Error(t, err)
}

func TestValidateInitData_RejectsWrongBotToken(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}
	initData := signInitData("999999:other-bot", validInitValues(time.Now()))

	_, err := svc.ValidateInitData(initData)
	assert.Error(t, err)
}

func TestValidateInitData_RejectsMissingHash(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}

	_, err := svc.ValidateInitData(validInitValues(time.Now()).Encode())
	assert.Error(t, err)
}

func TestValidateInitData_RejectsExpiredAuthDate(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}
	initData := signInitData(testBotToken, validInitValues(time.Now().Add(-48*time.Hour)))

	_, err := svc.ValidateInitData(initData)
	assert.Error(t, err)
}

func TestValidateInitData_RejectsMissingUser(t *testing.T) {
	t.Parallel()

	svc := &AuthService{botToken: testBotToken, initMaxAge: 24 * time.Hour}

	values := url.Values{}
	values.Set("query_id", "AAH_test")
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	initData := signInitData(testBotToken, values)

	_, err := svc.ValidateInitData(initData)
	assert.Error(t, err)
}

func TestJWT_RoundTrip(t *testing.T) {
	t.Parallel()

	svc := &JWTService{AccessTokenDuration: time.Hour, jwtSecretKey: "test-secret"}

	token, err := svc.ToJWT(42)
	require.NoError(t, err)

	telegramID, err := svc.VerifyJWTToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), telegramID)
}

func TestJWT_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	issuer := &JWTService{AccessTokenDuration: time.Hour, jwtSecretKey: "test-secret"}
	verifier := &JWTService{AccessTokenDuration: time.Hour, jwtSecretKey: "other-secret"}

	token, err := issuer.ToJWT(42)
	require.NoError(t, err)

	_, err = verifier.VerifyJWTToken(token)
	assert.Error(t, err)
}

func TestJWT_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	svc := &JWTService{AccessTokenDuration: -time.Hour, jwtSecretKey: "test-secret"}

	token, err := svc.ToJWT(42)
	require.NoError(t, err)

	_, err = svc.VerifyJWTToken(token)
	assert.Error(t, err)
}

func TestJWT_ExtractTokenFromHeader(t *testing.T) {
	t.Parallel()

	svc := &JWTService{}

	token, err := svc.ExtractTokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = svc.ExtractTokenFromHeader("")
	assert.Error(t, err)

	_, err = svc.ExtractTokenFromHeader("Token abc")
	assert.Error(t, err)
}
