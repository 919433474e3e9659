package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// User is the account the pipeline acts for. Authentication itself lives
// outside this service; the API key hash only guards the query endpoints.
type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email          string         `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	GithubLogin    string         `gorm:"type:varchar(100);index" json:"github_login" validate:"max=100"`
	GithubTokenEnc string         `gorm:"type:text" json:"-"`
	APIKeyHash     string         `gorm:"type:char(64);index" json:"-"`
	APIKeyPrefix   string         `gorm:"type:varchar(20)" json:"api_key_prefix"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}
