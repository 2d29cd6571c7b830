package controllers

import (
	"errors"
	"strings"

	"newsletter-backend/database"
	"newsletter-backend/middlewares"
	"newsletter-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LoginDTO struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required" normalize:"-"`
}

type ChangePasswordDTO struct {
	CurrentPassword  string `json:"current_password" form:"current_password" validate:"required" normalize:"-"`
	NewPassword      string `json:"new_password" form:"new_password" validate:"required,min=12,max=128" normalize:"-"`
	NewPasswordCheck string `json:"new_password_check" form:"new_password_check" validate:"required,eqfield=NewPassword" normalize:"-"`
}

func Login(c *fiber.Ctx) error {
	var data LoginDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}
	data.Email = strings.ToLower(data.Email)

	db, err := database.GetDB(c)
	if err != nil {
		return err
	}

	var user models.User
	if err := db.Where("email = ?", data.Email).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if err := user.ComparePassword(data.Password); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := middlewares.GenerateJWT(user.Id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.Id,
			"email": user.Email,
		},
	})
}

// Logout is stateless: clients drop their bearer token, which expires on its own.
func Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "logged out; discard the bearer token, it expires on its own",
	})
}

func ChangePassword(c *fiber.Ctx) error {
	var data ChangePasswordDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	userID := middlewares.UserID(c)
	if userID == "" {
		return fiber.ErrUnauthorized
	}

	db, err := database.GetDB(c)
	if err != nil {
		return err
	}

	var user models.User
	if err := db.Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrUnauthorized
		}
		return err
	}

	if err := user.ComparePassword(data.CurrentPassword); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "the current password is incorrect")
	}

	if err := user.SetPassword(data.NewPassword); err != nil {
		return err
	}
	if err := db.Model(&user).Update("password_hash", user.PasswordHash).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "your password has been changed",
	})
}
