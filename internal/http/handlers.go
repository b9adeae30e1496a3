package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"buget/internal/auth"
	"buget/internal/core"
	"buget/internal/service"
)

type transactionRequest struct {
	Title      string     `json:"title"`
	Amount     flexString `json:"amount"`
	Type       string     `json:"type"`
	Date       string     `json:"date"`
	CategoryID flexString `json:"categoryId"`
	Note       *string    `json:"note"`
}

func (req transactionRequest) input() service.TransactionInput {
	return service.TransactionInput{
		Title:      req.Title,
		Amount:     string(req.Amount),
		Type:       req.Type,
		Date:       req.Date,
		CategoryID: string(req.CategoryID),
		Note:       req.Note,
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.categoriesCache.Get(categoriesCacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	categories, err := s.svc.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.categoriesCache.Set(categoriesCacheKey, categories)
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	filter := core.TransactionFilter{
		Query:    r.URL.Query().Get("query"),
		Category: r.URL.Query().Get("category"),
	}

	list, err := s.svc.List(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID > 0 {
		if cached, ok := s.chartCache.Get(userCacheKey(userID, "chart")); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	chart, err := s.svc.Chart(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.chartCache.Set(userCacheKey(userID, "chart"), chart)
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	req, err := decodeTransaction(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.svc.Create(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUserCaches(userID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req, err := decodeTransaction(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.svc.Update(r.Context(), userID, id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUserCaches(userID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.svc.Delete(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUserCaches(userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction deleted."})
}

func decodeTransaction(r *http.Request) (transactionRequest, error) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return transactionRequest{}, fmt.Errorf("%w: malformed request body", core.ErrInvalidArgument)
	}
	return req, nil
}

// pathID parses the {id} segment. A non-numeric id names nothing, so it maps
// to NotFound rather than BadRequest.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: transaction %q", core.ErrNotFound, raw)
	}
	return id, nil
}
