// Package handler 包含了模拟后端处理 HTTP 请求的控制器逻辑。
// 与真实后端一致，业务错误也返回 HTTP 200，错误码放在响应体的 code 字段。
package handler

import (
	"errors"
	"net/http"

	"aihelper-go/internal/mockserver"
	"aihelper-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    data,
	})
}

func failure(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, gin.H{
		"code":    code,
		"message": message,
		"data":    nil,
	})
}

// fail 把 *mockserver.Error 映射为对应的业务码，其他错误视为 500。
func fail(c *gin.Context, err error) {
	var be *mockserver.Error
	if errors.As(err, &be) {
		failure(c, be.Code, be.Message)
		return
	}
	log.Errorw("处理请求出错", "path", c.Request.URL.Path, "error", err)
	failure(c, http.StatusInternalServerError, "服务器内部错误: "+err.Error())
}

func badRequest(c *gin.Context, message string) {
	failure(c, http.StatusBadRequest, message)
}
