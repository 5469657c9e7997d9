package crypto

import "golang.org/x/crypto/bcrypt"

// dummyHash is compared against when no user record exists, so the
// sign-in path does the same amount of work whether or not the email
// is registered.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("progress-dummy-password"), bcrypt.DefaultCost)

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// BurnCompare performs a throwaway comparison on the unknown-user path.
func BurnCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
