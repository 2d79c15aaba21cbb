package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
)

// CreateGeneration inserts a completed generation. ID and CreatedAt are filled in on success.
func (s *Store) CreateGeneration(ctx context.Context, gen *models.Generation) error {
	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO generations (
  id, user_id, logo_url, logo_description, destination_prompt, result_url,
  result_file_name, status, credit_cost, ip_address, user_agent, metadata
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING created_at`,
		gen.ID,
		gen.UserID,
		gen.LogoURL,
		gen.LogoDescription,
		gen.DestinationPrompt,
		gen.ResultURL,
		gen.ResultFileName,
		gen.Status,
		gen.CreditCost,
		nullableString(gen.IPAddress),
		nullableString(gen.UserAgent),
		gen.Metadata,
	).Scan(&gen.CreatedAt)
	if err != nil {
		return Error.New("create generation: %w", err)
	}
	return nil
}

// ListGenerations returns the user's generations, newest first.
func (s *Store) ListGenerations(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
  id::text,
  user_id::text,
  logo_url,
  logo_description,
  destination_prompt,
  result_url,
  result_file_name,
  status,
  credit_cost,
  ip_address,
  user_agent,
  metadata,
  created_at
FROM generations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, Error.New("list generations: %w", err)
	}
	defer rows.Close()

	gens := []models.Generation{}
	for rows.Next() {
		var (
			g         models.Generation
			ip        sql.NullString
			userAgent sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.LogoURL, &g.LogoDescription, &g.DestinationPrompt, &g.ResultURL,
			&g.ResultFileName, &g.Status, &g.CreditCost, &ip, &userAgent, &g.Metadata, &g.CreatedAt); err != nil {
			return nil, Error.New("list generations: scan: %w", err)
		}
		g.IPAddress = ip.String
		g.UserAgent = userAgent.String
		gens = append(gens, g)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.New("list generations: %w", err)
	}
	return gens, nil
}
