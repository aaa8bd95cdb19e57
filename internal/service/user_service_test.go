package service

import (
	"context"
	"testing"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type fakeUserRepo struct {
	users map[string]*model.User
}

func (f *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, ok := f.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.users[user.Username] = user
	return nil
}

var testSecret = []byte("test-secret")

func newUserServiceForTest(t *testing.T, password string) UserService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &fakeUserRepo{users: map[string]*model.User{
		"alice": {ID: uuid.New(), Username: "alice", Password: string(hash), Role: "operator"},
	}}
	return NewUserService(repo, testSecret)
}

func TestLoginIssuesToken(t *testing.T) {
	svc := newUserServiceForTest(t, "s3cret")

	res, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "operator", res.Role)

	token, err := jwt.Parse(res.Token, func(*jwt.Token) (interface{}, error) {
		return testSecret, nil
	})
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "alice", claims["username"])
	assert.Equal(t, "operator", claims["role"])
	assert.NotEmpty(t, claims["sub"])
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newUserServiceForTest(t, "s3cret")

	_, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "nope"})
	assert.ErrorContains(t, err, "invalid username or password")
}

// Unknown users get the same message as a wrong password.
func TestLoginUnknownUser(t *testing.T) {
	svc := newUserServiceForTest(t, "s3cret")

	_, err := svc.Login(context.Background(), LoginRequest{Username: "bob", Password: "s3cret"})
	assert.ErrorContains(t, err, "invalid username or password")
}
