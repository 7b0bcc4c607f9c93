package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/party-race/internal/config"
	apperrors "github.com/wfunc/party-race/internal/errors"
	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
)

// CarHandler 赛车管理处理器（仅管理员）
type CarHandler struct {
	carRepo repository.CarRepository
	cfg     *config.RaceConfig
}

// NewCarHandler 创建赛车管理处理器
func NewCarHandler(carRepo repository.CarRepository, cfg *config.RaceConfig) *CarHandler {
	return &CarHandler{carRepo: carRepo, cfg: cfg}
}

// CarRequest 赛车创建/更新请求
type CarRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Icon        string `json:"icon"`
	SpeedPlain  int    `json:"speed_plain" binding:"required"`
	SpeedDesert int    `json:"speed_desert" binding:"required"`
	SpeedMuddy  int    `json:"speed_muddy" binding:"required"`
	SortOrder   int    `json:"sort_order"`
}

// validateSpeeds 校验速度属性在配置范围内
func (h *CarHandler) validateSpeeds(req *CarRequest) error {
	for _, speed := range []int{req.SpeedPlain, req.SpeedDesert, req.SpeedMuddy} {
		if speed < h.cfg.SpeedMin || speed > h.cfg.SpeedMax {
			return apperrors.Newf(apperrors.ErrInvalidSpeed,
				"速度属性必须在 %d-%d 之间", h.cfg.SpeedMin, h.cfg.SpeedMax)
		}
	}
	return nil
}

// ListCars 分页查询赛车
func (h *CarHandler) ListCars(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	p := repository.NewPagination(page, pageSize)

	cars, err := h.carRepo.List(c.Request.Context(), p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询赛车失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cars":       cars,
		"pagination": p,
	})
}

// CreateCar 创建赛车
func (h *CarHandler) CreateCar(c *gin.Context) {
	var req CarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.validateSpeeds(&req); err != nil {
		respondAppError(c, err)
		return
	}

	car := &models.RaceCar{
		Name:        req.Name,
		Icon:        req.Icon,
		SpeedPlain:  req.SpeedPlain,
		SpeedDesert: req.SpeedDesert,
		SpeedMuddy:  req.SpeedMuddy,
		Active:      true,
		SortOrder:   req.SortOrder,
	}
	if err := h.carRepo.Create(c.Request.Context(), car); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: "创建赛车失败",
		})
		return
	}

	c.JSON(http.StatusOK, car)
}

// UpdateCar 更新赛车属性
func (h *CarHandler) UpdateCar(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "赛车ID无效",
		})
		return
	}

	var req CarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.validateSpeeds(&req); err != nil {
		respondAppError(c, err)
		return
	}

	car, err := h.carRepo.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		respondAppError(c, apperrors.Wrap(err, apperrors.ErrCarNotFound))
		return
	}

	car.Name = req.Name
	car.Icon = req.Icon
	car.SpeedPlain = req.SpeedPlain
	car.SpeedDesert = req.SpeedDesert
	car.SpeedMuddy = req.SpeedMuddy
	car.SortOrder = req.SortOrder

	if err := h.carRepo.Update(c.Request.Context(), car); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: "更新赛车失败",
		})
		return
	}

	c.JSON(http.StatusOK, car)
}

// SetCarActive 上架/下架赛车
func (h *CarHandler) SetCarActive(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "赛车ID无效",
		})
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.carRepo.SetActive(c.Request.Context(), uint(id), req.Active); err != nil {
		respondAppError(c, apperrors.Wrap(err, apperrors.ErrCarNotFound))
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "赛车状态已更新"})
}
