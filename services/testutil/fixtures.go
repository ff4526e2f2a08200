package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/auth"
)

// DemoUserID matches the first user created by cmd/seed.
var DemoUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

const TestAdminToken = "test-admin-token"

func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration) (string, error) {
	return auth.IssueJWT(userID.String(), "USER", secret, ttl)
}
