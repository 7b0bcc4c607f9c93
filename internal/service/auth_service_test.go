package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
	"github.com/wfunc/party-race/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuthService(t *testing.T) (AuthService, *gorm.DB) {
	t.Helper()
	db := repository.SetupTestDB()
	t.Cleanup(func() { repository.CleanupTestDB(db) })

	jwtManager := utils.NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour)
	svc := NewAuthService(
		db,
		repository.NewUserRepository(db),
		repository.NewWalletRepository(db),
		jwtManager,
		zap.NewNop(),
	)
	return svc, db
}

func registerTestUser(t *testing.T, svc AuthService, username string) *AuthResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), &RegisterRequest{
		Username:        username,
		Password:        "password123",
		ConfirmPassword: "password123",
		Nickname:        "测试用户",
	})
	require.NoError(t, err)
	return resp
}

func TestAuthService_Register(t *testing.T) {
	svc, db := setupAuthService(t)

	resp := registerTestUser(t, svc, "player1")
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "player1", resp.User.Username)

	// 注册赠送余额到账
	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", resp.User.ID).First(&wallet).Error)
	assert.Equal(t, int64(10000), wallet.Balance)

	var txn models.Transaction
	require.NoError(t, db.Where("user_id = ? AND type = ?", resp.User.ID, "deposit").First(&txn).Error)
	assert.Equal(t, int64(10000), txn.Amount)
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	svc, _ := setupAuthService(t)

	registerTestUser(t, svc, "player1")

	_, err := svc.Register(context.Background(), &RegisterRequest{
		Username:        "player1",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthService_Register_Validation(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *RegisterRequest
	}{
		{"用户名太短", &RegisterRequest{Username: "ab", Password: "password123", ConfirmPassword: "password123"}},
		{"用户名含非法字符", &RegisterRequest{Username: "bad name!", Password: "password123", ConfirmPassword: "password123"}},
		{"密码太短", &RegisterRequest{Username: "player1", Password: "123", ConfirmPassword: "123"}},
		{"两次密码不一致", &RegisterRequest{Username: "player1", Password: "password123", ConfirmPassword: "password456"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.req)
			assert.Error(t, err)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "player1")

	resp, err := svc.Login(ctx, &LoginRequest{
		Username: "player1",
		Password: "password123",
		IP:       "127.0.0.1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "127.0.0.1", resp.User.LastLoginIP)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	registerTestUser(t, svc, "player1")

	_, err := svc.Login(ctx, &LoginRequest{Username: "player1", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, &LoginRequest{Username: "nobody", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_Banned(t *testing.T) {
	svc, db := setupAuthService(t)
	ctx := context.Background()

	resp := registerTestUser(t, svc, "player1")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", resp.User.ID).Update("status", "banned").Error)

	_, err := svc.Login(ctx, &LoginRequest{Username: "player1", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserBanned)
}

func TestAuthService_ValidateToken(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	resp := registerTestUser(t, svc, "player1")

	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, "player1", claims.Username)

	_, err = svc.ValidateToken(ctx, "not-a-token")
	assert.Error(t, err)
}

func TestAuthService_RefreshToken(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	resp := registerTestUser(t, svc, "player1")

	refreshed, err := svc.RefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	// 访问令牌不能当刷新令牌用
	_, err = svc.RefreshToken(ctx, resp.AccessToken)
	assert.Error(t, err)
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc, _ := setupAuthService(t)
	ctx := context.Background()

	resp := registerTestUser(t, svc, "player1")

	require.NoError(t, svc.ChangePassword(ctx, resp.User.ID, "password123", "newpassword"))

	// 旧密码失效
	_, err := svc.Login(ctx, &LoginRequest{Username: "player1", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// 新密码生效
	_, err = svc.Login(ctx, &LoginRequest{Username: "player1", Password: "newpassword"})
	assert.NoError(t, err)

	// 旧密码校验失败时拒绝修改
	err = svc.ChangePassword(ctx, resp.User.ID, "wrong", "another")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
