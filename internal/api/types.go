package api

import (
	"time"

	"pybuddy/internal/catalog"
	"pybuddy/internal/grader"
	"pybuddy/internal/llm"
	"pybuddy/internal/tutor"
)

type GradeRequest struct {
	SourceCode string `json:"source_code" validate:"required"`
}

type GradeResponse struct {
	Passed     bool   `json:"passed"`
	Message    string `json:"message"`
	Outcome    string `json:"outcome"`
	FailedCase int    `json:"failed_case"`
}

func NewGradeResponse(r grader.Result) GradeResponse {
	return GradeResponse{
		Passed:     r.Passed,
		Message:    r.Message,
		Outcome:    string(r.Outcome),
		FailedCase: r.FailedCase,
	}
}

// ChallengeSummary is a challenge as listed, without its test table.
type ChallengeSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	FunctionName string `json:"function_name"`
	Description  string `json:"description"`
	TestCount    int    `json:"test_count"`
}

func NewChallengeSummary(c catalog.Challenge) ChallengeSummary {
	return ChallengeSummary{
		ID:           c.ID,
		Title:        c.Title,
		FunctionName: c.FunctionName,
		Description:  c.Description,
		TestCount:    len(c.TestCases),
	}
}

type SessionRequest struct {
	Character string `json:"character" validate:"omitempty,max=64"`
}

type CharacterRequest struct {
	Character string `json:"character" validate:"required,max=64"`
}

type PageRequest struct {
	Page string `json:"page" validate:"required"`
}

type MessageRequest struct {
	Content  string `json:"content" validate:"required"`
	Provider string `json:"provider" validate:"omitempty,oneof=openai deepseek ollama"`
	APIKey   string `json:"api_key"`
}

type MessageResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SessionResponse struct {
	ID        string            `json:"id"`
	Character catalog.Character `json:"character"`
	Page      string            `json:"page"`
	Messages  []llm.Message     `json:"messages"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func NewSessionResponse(s *tutor.Session, ch catalog.Character) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Character: ch,
		Page:      string(s.Page),
		Messages:  s.Messages,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}
