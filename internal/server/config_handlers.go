package server

import (
	"net/http"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	Payments       bool   `json:"payments"`
	Currency       string `json:"currency"`
	PageSize       int    `json:"pageSize"`
	TotalPages     int    `json:"totalPages"`
	MaxCartItems   int    `json:"maxCartItems"`
}

func (ms *StoreServer) publicConfig() ConfigResponse {
	return ConfigResponse{
		PublishableKey: ms.config.Payments.PublishableKey,
		Payments:       ms.config.PaymentsEnabled(),
		Currency:       ms.config.Payments.Currency,
		PageSize:       ms.catalog.PageSize(),
		TotalPages:     ms.catalog.TotalPages(),
		MaxCartItems:   ms.cart.MaxItems(),
	}
}

// handleGetConfig returns public configuration settings for the frontend
func (ms *StoreServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ms.respondJSON(w, http.StatusOK, ms.publicConfig())
}
