package model

import "time"

// RecommendationsPerCategory is the exact number of books in each category.
const RecommendationsPerCategory = 5

// BookRecommendation is one recommended title with the reasoning behind it.
type BookRecommendation struct {
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Description  string   `json:"description"`
	Relevance    string   `json:"relevance"`
	KeyTakeaways []string `json:"keyTakeaways"`
}

// RecommendationSet holds the three fixed recommendation categories.
type RecommendationSet struct {
	TopOfMind         []BookRecommendation `json:"topOfMind"`
	CareerGrowth      []BookRecommendation `json:"careerGrowth"`
	PersonalInterests []BookRecommendation `json:"personalInterests"`
	GeneratedAt       time.Time            `json:"generatedAt"`
}
