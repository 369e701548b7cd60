package utils // package utils provides helper functions for token creation and hashing

import (
    "errors"
    "fmt"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// SessionToken is a signed JWT and its expiry.  Voters get one after OTP
// verification, operators after password login.
type SessionToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// Session is the identity recovered from a valid token.
type Session struct {
    UserID uint64
    NIM    string
    Name   string
    Role   string
}

var ErrInvalidToken = errors.New("invalid token")

// NewSessionToken builds and signs an HS256 JWT.  The claims are sub (user
// id as a decimal string), nim, name, role, exp and iat.
func NewSessionToken(secret string, s Session, ttl time.Duration) (SessionToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  strconv.FormatUint(s.UserID, 10),
        "nim":  s.NIM,
        "name": s.Name,
        "role": s.Role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return SessionToken{}, err
    }
    return SessionToken{Token: signed, Exp: exp}, nil
}

// ParseSessionToken verifies raw against secret and returns its identity.
// Tokens signed with anything but HMAC are rejected.
func ParseSessionToken(secret, raw string) (Session, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    }, jwt.WithExpirationRequired())
    if err != nil || !tok.Valid {
        return Session{}, ErrInvalidToken
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return Session{}, ErrInvalidToken
    }
    sub, _ := claims["sub"].(string)
    id, err := strconv.ParseUint(sub, 10, 64)
    if err != nil || id == 0 {
        return Session{}, ErrInvalidToken
    }
    role, _ := claims["role"].(string)
    if role == "" {
        return Session{}, ErrInvalidToken
    }
    nim, _ := claims["nim"].(string)
    name, _ := claims["name"].(string)
    return Session{UserID: id, NIM: nim, Name: name, Role: role}, nil
}
