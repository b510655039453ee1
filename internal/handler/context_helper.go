package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-leave-api/internal/middleware"
	"github.com/noah-isme/campus-leave-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFrom(c)
}
