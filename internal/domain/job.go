package domain

import "time"

// SearchCriteria - что ищем на шаге discover
type SearchCriteria struct {
	Keywords  []string `json:"keywords" validate:"omitempty,dive,required"`
	Location  string   `json:"location,omitempty"`
	Remote    bool     `json:"remote,omitempty"`
	MinSalary int      `json:"min_salary,omitempty" validate:"gte=0"`
}

// JobPosting — рабочий элемент пайплайна
type JobPosting struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty" validate:"omitempty,url"`
	Description string `json:"description,omitempty"`
}

// UserProfile - профиль соискателя из хранилища
type UserProfile struct {
	UserID     string            `json:"user_id"`
	FullName   string            `json:"full_name"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone,omitempty"`
	ResumeText string            `json:"resume_text"`
	Skills     []string          `json:"skills,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ApplicationRecord - то, что сохраняет шаг persist
type ApplicationRecord struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	JobID       string    `json:"job_id"`
	JobTitle    string    `json:"job_title"`
	Company     string    `json:"company"`
	JobURL      string    `json:"job_url,omitempty"`
	ResumeText  string    `json:"resume_text"`
	CoverLetter string    `json:"cover_letter"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ApplicationStatusCreated   = "created"
	ApplicationStatusSubmitted = "submitted"
)
