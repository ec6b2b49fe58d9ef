package services

import "errors"

var (
	ErrRuleNotFound            = errors.New("automation rule not found")
	ErrTemplateNotFound        = errors.New("template not found")
	ErrRecommendationNotFound  = errors.New("recommendation not found")
	ErrInvalidStatusTransition = errors.New("invalid recommendation status transition")
	ErrActionTimeout           = errors.New("action timed out")
	ErrInvalidConfig           = errors.New("invalid template configuration")
)
