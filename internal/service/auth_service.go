package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
	"github.com/wfunc/party-race/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrUserExists         = errors.New("用户已存在")
	ErrUserNotFound       = errors.New("用户不存在")
	ErrUserBanned         = errors.New("用户已被封禁")
	ErrInvalidToken       = errors.New("无效的令牌")
)

// welcomeBalance 注册赠送的初始余额（分）
const welcomeBalance int64 = 10000

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// authService 认证服务实现
type authService struct {
	db         *gorm.DB
	userRepo   repository.UserRepository
	walletRepo repository.WalletRepository
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	db *gorm.DB,
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	jwtManager *utils.JWTManager,
	log *zap.Logger,
) AuthService {
	return &authService{
		db:         db,
		userRepo:   userRepo,
		walletRepo: walletRepo,
		jwtManager: jwtManager,
		log:        log,
	}
}

// Register 用户注册
// 用户、认证信息、带赠送余额的钱包在同一个事务中创建
func (s *authService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := s.validateRegisterRequest(req); err != nil {
		return nil, err
	}

	if user, _ := s.userRepo.FindByUsername(ctx, req.Username); user != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &models.User{
		Username: req.Username,
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
		Status:   "active",
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		userTx := s.userRepo.WithTx(tx).(repository.UserRepository)
		walletTx := s.walletRepo.WithTx(tx).(repository.WalletRepository)

		if err := userTx.Create(ctx, user); err != nil {
			return fmt.Errorf("创建用户失败: %w", err)
		}

		auth := &models.UserAuth{
			UserID:   user.ID,
			Password: hashedPassword,
		}
		if err := userTx.CreateAuth(ctx, auth); err != nil {
			return fmt.Errorf("创建认证信息失败: %w", err)
		}

		wallet := &models.Wallet{
			UserID:       user.ID,
			Balance:      welcomeBalance,
			TotalDeposit: welcomeBalance,
		}
		if err := walletTx.Create(ctx, wallet); err != nil {
			return fmt.Errorf("创建钱包失败: %w", err)
		}

		return walletTx.CreateTransaction(ctx, &models.Transaction{
			UserID:       user.ID,
			OrderNo:      fmt.Sprintf("REG-%d", user.ID),
			Type:         "deposit",
			Amount:       welcomeBalance,
			AfterBalance: welcomeBalance,
			Status:       "success",
			Description:  "注册赠送",
		})
	})
	if err != nil {
		s.log.Error("注册失败", zap.String("username", req.Username), zap.Error(err))
		return nil, err
	}

	s.log.Info("用户注册成功",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username))

	return s.issueTokens(user)
}

// Login 用户登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil || user == nil {
		s.log.Warn("登录失败：用户不存在", zap.String("username", req.Username))
		return nil, ErrInvalidCredentials
	}

	if user.Status == "banned" {
		return nil, ErrUserBanned
	}

	auth, err := s.userRepo.FindAuthByUserID(ctx, user.ID)
	if err != nil {
		s.log.Error("读取认证信息失败", zap.Uint("user_id", user.ID), zap.Error(err))
		return nil, ErrInvalidCredentials
	}

	valid, err := utils.VerifyPassword(req.Password, auth.Password)
	if err != nil || !valid {
		s.log.Warn("登录失败：密码错误", zap.Uint("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	user.UpdateLoginInfo(req.IP)
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.log.Warn("更新登录信息失败", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	s.log.Info("用户登录成功",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username))

	return s.issueTokens(user)
}

// Logout 用户登出（JWT无状态，仅记录日志）
func (s *authService) Logout(ctx context.Context, userID uint, token string) error {
	if _, err := s.jwtManager.ValidateToken(token); err != nil {
		return ErrInvalidToken
	}
	s.log.Info("用户登出", zap.Uint("user_id", userID))
	return nil
}

// RefreshToken 刷新令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "refresh" {
		return nil, errors.New("不是刷新令牌")
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.Status == "banned" {
		return nil, ErrUserBanned
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(
		user.ID, user.Username, user.Role, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken 验证令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	return &TokenClaims{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

// ChangePassword 修改密码
func (s *authService) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return errors.New("密码长度至少6个字符")
	}

	auth, err := s.userRepo.FindAuthByUserID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := utils.VerifyPassword(oldPassword, auth.Password)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hashed); err != nil {
		return fmt.Errorf("更新密码失败: %w", err)
	}

	s.log.Info("密码修改成功", zap.Uint("user_id", userID))
	return nil
}

// issueTokens 签发访问与刷新令牌
func (s *authService) issueTokens(user *models.User) (*AuthResponse, error) {
	sessionID, err := utils.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("生成会话ID失败: %w", err)
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(
		user.ID, user.Username, user.Role, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成刷新令牌失败: %w", err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// validateRegisterRequest 验证注册请求
func (s *authService) validateRegisterRequest(req *RegisterRequest) error {
	if len(req.Username) < 3 || len(req.Username) > 20 {
		return errors.New("用户名长度必须在3-20个字符之间")
	}
	if !usernamePattern.MatchString(req.Username) {
		return errors.New("用户名只能包含字母、数字和下划线")
	}
	if len(req.Password) < 6 {
		return errors.New("密码长度至少6个字符")
	}
	if req.Password != req.ConfirmPassword {
		return errors.New("两次输入的密码不一致")
	}
	return nil
}
