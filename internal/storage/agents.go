package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giron-ai/giron/internal/model"
)

// CreateAgent inserts a new agent persona.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	if agent.Role == "" {
		agent.Role = model.RoleMember
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (agent_id, name, persona, style_tag, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		agent.AgentID, agent.Name, agent.Persona, agent.StyleTag, string(agent.Role), agent.APIKeyHash, agent.CreatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent by its external identifier.
func (db *DB) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	var a model.Agent
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT agent_id, name, persona, style_tag, role, api_key_hash, created_at
		 FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&a.AgentID, &a.Name, &a.Persona, &a.StyleTag, &role, &a.APIKeyHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", agentID, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	a.Role = model.AgentRole(role)
	return a, nil
}

// GetAgents retrieves multiple agents by ID, keyed by agent_id.
// Missing IDs are absent from the map rather than an error; the caller
// decides whether absence is fatal.
func (db *DB) GetAgents(ctx context.Context, agentIDs []string) (map[string]model.Agent, error) {
	if len(agentIDs) == 0 {
		return map[string]model.Agent{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, name, persona, style_tag, role, api_key_hash, created_at
		 FROM agents WHERE agent_id = ANY($1)`, agentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get agents: %w", err)
	}
	defer rows.Close()

	agents := make(map[string]model.Agent, len(agentIDs))
	for rows.Next() {
		var a model.Agent
		var role string
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Persona, &a.StyleTag, &role, &a.APIKeyHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		a.Role = model.AgentRole(role)
		agents[a.AgentID] = a
	}
	return agents, rows.Err()
}
