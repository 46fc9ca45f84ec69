package domain

import "time"

// User is the account entity. The token subsystem references it by UserID only.
type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Name         string    `json:"name" dynamodbav:"name"`
	Username     string    `json:"username" dynamodbav:"username"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	DateOfBirth  string    `json:"date_of_birth" dynamodbav:"date_of_birth"`
	Verified     bool      `json:"verified" dynamodbav:"verified"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

type SignupRequest struct {
	Name        string `json:"name" validate:"required,personname"`
	Email       string `json:"email" validate:"required,email"`
	Username    string `json:"username" validate:"required,alpha"`
	Password    string `json:"password" validate:"required,strongpassword"`
	DateOfBirth string `json:"dateOfBirth" validate:"required"`
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	UserID              string `json:"userId" validate:"required"`
	PasswordResetString string `json:"passwordResetString" validate:"required"`
	NewPassword         string `json:"newPassword" validate:"required,strongpassword"`
}
